// Package scrub normalizes budget documents before they are written to, and
// after they are read from, the document store. Every function here is pure
// and total: garbage in produces a structurally valid, bounded document out.
package scrub

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/pkg/currency"
	"github.com/wealthpath/buckets/pkg/datetime"
)

const maxIDLength = 64

// maxMinorUnits caps stored amounts inside float64's exact integer range.
const maxMinorUnits = int64(1) << 50

// Scrub returns a clean copy of a raw budget document. It never fails and
// Scrub(Scrub(x)) is deeply equal to Scrub(x).
func Scrub(raw map[string]any) map[string]any {
	settings := asMap(raw["settings"])

	cur := currency.Normalize(str(settings["currency"]))
	freq := model.Frequency(str(settings["incomeFrequency"]))
	if !freq.Valid() {
		freq = model.DefaultFrequency
	}

	name := bounded(str(raw["name"]), model.MaxNameLength)
	if name == "" {
		name = model.DefaultBudgetName
	}

	seen := make(map[string]bool)
	sc := scope{currency: cur, seen: seen}
	return map[string]any{
		"schemaVersion": int64(model.SchemaVersion),
		"name":          name,
		"settings": map[string]any{
			"incomeCents":     minorUnits(settings["incomeCents"]),
			"incomeFrequency": string(freq),
			"currency":        string(cur),
		},
		"expenses": sc.buckets(raw["expenses"], model.CategoryExpenses),
		"savings":  sc.buckets(raw["savings"], model.CategorySavings),
	}
}

// scope carries the document-wide state needed while scrubbing buckets.
type scope struct {
	currency currency.Currency
	seen     map[string]bool
}

func (sc scope) buckets(v any, category model.Category) []any {
	list := asList(v)
	if len(list) > model.MaxBucketsPerCategory {
		list = list[:model.MaxBucketsPerCategory]
	}

	buckets := make([]map[string]any, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		buckets = append(buckets, sc.bucket(m, category, i))
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i]["orderIndex"].(int64) < buckets[j]["orderIndex"].(int64)
	})

	out := make([]any, len(buckets))
	for i, b := range buckets {
		out[i] = b
	}
	return out
}

func (sc scope) bucket(raw map[string]any, category model.Category, pos int) map[string]any {
	id := uniqueID(sc.seen, str(raw["id"]), fmt.Sprintf("%s-%d", category, pos))

	typ := model.BucketType(str(raw["type"]))
	if !typ.Valid() {
		typ = defaultType(category)
	}

	order := int64(pos)
	if v, ok := raw["orderIndex"]; ok && v != nil {
		order = nonNegativeInt(v, int64(pos))
	}

	threshold := positiveFloat(raw["overspendThresholdPct"], model.DefaultOverspendThresholdPct)

	out := map[string]any{
		"id":                    id,
		"name":                  bounded(str(raw["name"]), model.MaxNameLength),
		"bankAccount":           bounded(str(raw["bankAccount"]), model.MaxNameLength),
		"color":                 bounded(str(raw["color"]), 32),
		"notes":                 bounded(str(raw["notes"]), model.MaxNotesLength),
		"type":                  string(typ),
		"include":               boolOr(raw["include"], true),
		"orderIndex":            order,
		"overspendThresholdPct": threshold,
		"spentThisPeriodCents":  minorUnits(raw["spentThisPeriodCents"]),
		"items":                 sc.items(raw["items"]),
	}

	switch typ {
	case model.BucketTypeSaving:
		out["target"] = scrubTarget(asMap(raw["target"]))
	case model.BucketTypeDebt:
		out["debt"] = scrubDebt(asMap(raw["debt"]))
	}
	return out
}

// uniqueID returns id when it is usable and unseen, otherwise a generated id
// derived from fallback. Overlong ids are treated as missing.
func uniqueID(seen map[string]bool, id, fallback string) string {
	if id == "" || utf8.RuneCountInString(id) > maxIDLength || seen[id] {
		id = fallback
		for n := 1; seen[id]; n++ {
			id = fmt.Sprintf("%s-%d", fallback, n)
		}
	}
	seen[id] = true
	return id
}

// defaultType is the type assumed for a bucket whose type is missing or
// unknown. Buckets found in the savings column are assumed to be savings.
func defaultType(category model.Category) model.BucketType {
	if category == model.CategorySavings {
		return model.BucketTypeSaving
	}
	return model.BucketTypeExpense
}

func (sc scope) items(v any) []any {
	list := asList(v)
	if len(list) > model.MaxItemsPerBucket {
		list = list[:model.MaxItemsPerBucket]
	}

	out := make([]any, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name := bounded(str(m["name"]), model.MaxNameLength)
		amount := minorUnits(m["amountCents"])
		if _, ok := m["amountCents"]; !ok {
			amount = legacyMinorUnits(m["amount"], sc.currency)
		}
		if name == "" && amount == 0 {
			continue
		}
		id := uniqueID(seen, str(m["id"]), fmt.Sprintf("item-%d", i))
		out = append(out, map[string]any{
			"id":          id,
			"name":        name,
			"amountCents": amount,
			"include":     boolOr(m["include"], true),
		})
	}
	return out
}

func scrubTarget(raw map[string]any) map[string]any {
	out := map[string]any{
		"amountCents":             minorUnits(raw["amountCents"]),
		"autoContributionEnabled": boolOr(raw["autoContributionEnabled"], false),
	}
	if d, ok := parseDate(raw["targetDate"]); ok {
		out["targetDate"] = d.Format(datetime.DateFormat)
	}
	return out
}

func scrubDebt(raw map[string]any) map[string]any {
	return map[string]any{
		"aprPct":          nonNegativeFloat(raw["aprPct"]),
		"minPaymentCents": minorUnits(raw["minPaymentCents"]),
	}
}

// ---------------------------------------------------------------------------
// coercion helpers
// ---------------------------------------------------------------------------

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out
	}
	return nil
}

func str(v any) string {
	switch v.(type) {
	case nil, map[string]any, []any, bool:
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func bounded(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		v = strings.TrimSpace(t)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// minorUnits coerces v into a non-negative whole number of cents.
func minorUnits(v any) int64 {
	f, ok := number(v)
	if !ok || f < 0 {
		return 0
	}
	n := int64(math.Round(f))
	if n > maxMinorUnits {
		return maxMinorUnits
	}
	return n
}

// legacyMinorUnits converts an amount written in major currency units.
func legacyMinorUnits(v any, cur currency.Currency) int64 {
	f, ok := number(v)
	if !ok || f < 0 {
		return 0
	}
	return minorUnits(currency.ToMinorUnits(decimal.NewFromFloat(f), cur))
}

func nonNegativeInt(v any, fallback int64) int64 {
	f, ok := number(v)
	if !ok || f < 0 {
		return fallback
	}
	if f > float64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int64(math.Round(f))
}

func nonNegativeFloat(v any) float64 {
	f, ok := number(v)
	if !ok || f < 0 {
		return 0
	}
	return f
}

func positiveFloat(v any, fallback float64) float64 {
	f, ok := number(v)
	if !ok || f <= 0 {
		return fallback
	}
	return f
}

func boolOr(v any, fallback bool) bool {
	if v == nil {
		return fallback
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return datetime.StartOfDay(t), true
	case string:
		d, err := datetime.ParseDate(strings.TrimSpace(t))
		if err != nil || d.IsZero() {
			return time.Time{}, false
		}
		return d.Time, true
	}
	return time.Time{}, false
}
