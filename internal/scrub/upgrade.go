package scrub

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/pkg/currency"
)

// step upgrades a document from version N to N+1 in place.
type step func(doc map[string]any)

// steps[i] upgrades a version i document to version i+1.
var steps = []step{
	upgradeV0,
	upgradeV1,
}

// Upgrade brings a stored document up to model.SchemaVersion and back-fills
// fields the current layout expects. raw is not modified. changed reports
// whether the stored document needs to be rewritten; it is false for a
// document that is already current, so running Upgrade on its own output is a
// no-op.
func Upgrade(raw map[string]any) (map[string]any, bool) {
	doc := deepCopy(raw).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}

	version := SchemaVersionOf(doc)
	changed := false
	for v := version; v < model.SchemaVersion && v < len(steps); v++ {
		steps[v](doc)
		changed = true
	}
	if version < model.SchemaVersion {
		doc["schemaVersion"] = int64(model.SchemaVersion)
	}

	if backfill(doc) {
		changed = true
	}
	return doc, changed
}

// SchemaVersionOf returns the version recorded on a document, zero when the
// document predates versioning.
func SchemaVersionOf(doc map[string]any) int {
	v, ok := doc["schemaVersion"]
	if !ok || v == nil {
		return 0
	}
	n, err := cast.ToIntE(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// upgradeV0 handles documents written before the budget carried a name,
// settings or explicit ordering.
func upgradeV0(doc map[string]any) {
	if str(doc["name"]) == "" {
		doc["name"] = model.DefaultBudgetName
	}

	settings, ok := doc["settings"].(map[string]any)
	if !ok {
		settings = map[string]any{}
		doc["settings"] = settings
	}
	// Income lived at the top level, then under settings.income, before it
	// settled on settings.incomeAmount. The first layout found wins.
	for _, legacy := range []struct {
		m   map[string]any
		key string
	}{
		{settings, "income"},
		{doc, "incomeAmount"},
		{doc, "income"},
	} {
		v, ok := legacy.m[legacy.key]
		if !ok {
			continue
		}
		if _, exists := settings["incomeAmount"]; !exists && v != nil {
			settings["incomeAmount"] = v
		}
		delete(legacy.m, legacy.key)
	}

	for _, category := range []model.Category{model.CategoryExpenses, model.CategorySavings} {
		for i, entry := range asList(doc[string(category)]) {
			bucket, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := bucket["orderIndex"]; !ok {
				bucket["orderIndex"] = int64(i)
			}
			if str(bucket["id"]) == "" {
				bucket["id"] = fmt.Sprintf("%s-%d", category, i)
			}
		}
	}
}

// upgradeV1 moves every amount into integer minor units.
func upgradeV1(doc map[string]any) {
	settings, _ := doc["settings"].(map[string]any)
	if settings == nil {
		settings = map[string]any{}
		doc["settings"] = settings
	}
	cur := currency.Normalize(str(settings["currency"]))

	if v, ok := settings["incomeAmount"]; ok {
		if _, exists := settings["incomeCents"]; !exists {
			settings["incomeCents"] = legacyMinorUnits(v, cur)
		}
		delete(settings, "incomeAmount")
	}

	for _, category := range []model.Category{model.CategoryExpenses, model.CategorySavings} {
		for _, entry := range asList(doc[string(category)]) {
			bucket, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			moveMinor(bucket, "spentThisPeriod", "spentThisPeriodCents", cur)

			for _, raw := range asList(bucket["items"]) {
				if item, ok := raw.(map[string]any); ok {
					moveMinor(item, "amount", "amountCents", cur)
				}
			}
			if target, ok := bucket["target"].(map[string]any); ok {
				moveMinor(target, "amount", "amountCents", cur)
			}
			if debt, ok := bucket["debt"].(map[string]any); ok {
				moveMinor(debt, "minPayment", "minPaymentCents", cur)
				if v, ok := debt["apr"]; ok {
					if _, exists := debt["aprPct"]; !exists {
						debt["aprPct"] = v
					}
					delete(debt, "apr")
				}
			}
		}
	}
}

func moveMinor(m map[string]any, from, to string, cur currency.Currency) {
	v, ok := m[from]
	if !ok {
		return
	}
	if _, exists := m[to]; !exists {
		m[to] = legacyMinorUnits(v, cur)
	}
	delete(m, from)
}

// backfill adds fields the current layout expects but the document lacks.
// It reports whether anything was added.
func backfill(doc map[string]any) bool {
	added := false
	set := func(m map[string]any, key string, v any) {
		if cur, ok := m[key]; ok && cur != nil {
			return
		}
		m[key] = v
		added = true
	}

	set(doc, "name", model.DefaultBudgetName)
	settings, ok := doc["settings"].(map[string]any)
	if !ok {
		settings = map[string]any{}
		doc["settings"] = settings
		added = true
	}
	set(settings, "incomeCents", int64(0))
	set(settings, "incomeFrequency", string(model.DefaultFrequency))
	set(settings, "currency", model.DefaultCurrency)

	for _, category := range []model.Category{model.CategoryExpenses, model.CategorySavings} {
		list, ok := doc[string(category)].([]any)
		if !ok {
			doc[string(category)] = []any{}
			added = true
			continue
		}
		for _, entry := range list {
			bucket, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			typ := model.BucketType(str(bucket["type"]))
			if !typ.Valid() {
				typ = defaultType(category)
			}
			set(bucket, "type", string(typ))
			set(bucket, "include", true)
			set(bucket, "overspendThresholdPct", model.DefaultOverspendThresholdPct)
			set(bucket, "spentThisPeriodCents", int64(0))
			set(bucket, "items", []any{})
			switch typ {
			case model.BucketTypeSaving:
				set(bucket, "target", map[string]any{
					"amountCents":             int64(0),
					"autoContributionEnabled": false,
				})
			case model.BucketTypeDebt:
				set(bucket, "debt", map[string]any{
					"aprPct":          0.0,
					"minPaymentCents": int64(0),
				})
			}
		}
	}
	return added
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	}
	return v
}
