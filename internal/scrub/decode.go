package scrub

import (
	"time"

	"github.com/spf13/cast"

	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/pkg/datetime"
)

// Decode scrubs a raw document and converts it into a typed budget. The id and
// the server-managed timestamps are read from raw when present.
func Decode(id string, raw map[string]any) model.Budget {
	doc := Scrub(raw)
	settings := doc["settings"].(map[string]any)

	b := model.Budget{
		ID:   id,
		Name: doc["name"].(string),
		Settings: model.Settings{
			IncomeCents:     settings["incomeCents"].(int64),
			IncomeFrequency: model.Frequency(settings["incomeFrequency"].(string)),
			Currency:        settings["currency"].(string),
		},
		Expenses:      decodeBuckets(doc["expenses"].([]any)),
		Savings:       decodeBuckets(doc["savings"].([]any)),
		SchemaVersion: model.SchemaVersion,
		CreatedAt:     timestamp(raw["createdAt"]),
		UpdatedAt:     timestamp(raw["updatedAt"]),
	}
	return b
}

// Clean runs typed state through the scrubber. It is applied to every budget
// before it leaves the process.
func Clean(b model.Budget) model.Budget {
	out := Decode(b.ID, b.ToDocument())
	out.CreatedAt = b.CreatedAt
	out.UpdatedAt = b.UpdatedAt
	return out
}

func decodeBuckets(list []any) []model.Bucket {
	out := make([]model.Bucket, 0, len(list))
	for _, entry := range list {
		m := entry.(map[string]any)
		b := model.Bucket{
			ID:                    m["id"].(string),
			Name:                  m["name"].(string),
			BankAccount:           m["bankAccount"].(string),
			Color:                 m["color"].(string),
			Notes:                 m["notes"].(string),
			Type:                  model.BucketType(m["type"].(string)),
			Include:               m["include"].(bool),
			OrderIndex:            int(m["orderIndex"].(int64)),
			OverspendThresholdPct: m["overspendThresholdPct"].(float64),
			SpentThisPeriodCents:  m["spentThisPeriodCents"].(int64),
		}

		items := m["items"].([]any)
		b.Items = make([]model.Item, 0, len(items))
		for _, raw := range items {
			it := raw.(map[string]any)
			b.Items = append(b.Items, model.Item{
				ID:          it["id"].(string),
				Name:        it["name"].(string),
				AmountCents: it["amountCents"].(int64),
				Include:     it["include"].(bool),
			})
		}

		if t, ok := m["target"].(map[string]any); ok {
			target := &model.SavingsTarget{
				AmountCents:             t["amountCents"].(int64),
				AutoContributionEnabled: t["autoContributionEnabled"].(bool),
			}
			if s, ok := t["targetDate"].(string); ok {
				if d, err := datetime.ParseDate(s); err == nil {
					target.TargetDate = &d.Time
				}
			}
			b.Target = target
		}
		if d, ok := m["debt"].(map[string]any); ok {
			b.Debt = &model.DebtTerms{
				APRPct:          d["aprPct"].(float64),
				MinPaymentCents: d["minPaymentCents"].(int64),
			}
		}
		out = append(out, b)
	}
	return out
}

func timestamp(v any) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
