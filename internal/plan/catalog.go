package plan

import (
	"errors"
	"strings"

	"github.com/smallbiznis/lumora/internal/config"
)

var ErrUnknownPlan = errors.New("unknown_plan")

// Plan describes a purchasable subscription tier, keyed by the payment
// provider's price id. Credit amounts are whole credits.
type Plan struct {
	PriceRef       string
	Tier           string
	Name           string
	MonthlyCredits int64
	RolloverCap    int64
	TrialCredits   int64
}

// Catalog resolves provider price ids to plan metadata. The catalog is
// immutable after construction; plans change by deploy, not at runtime.
type Catalog struct {
	byPriceRef map[string]Plan
}

func NewCatalog(cfg config.Config) *Catalog {
	entries := cfg.Plans
	if len(entries) == 0 {
		entries = defaultPlans
	}

	byPriceRef := make(map[string]Plan, len(entries))
	for _, entry := range entries {
		priceRef := strings.TrimSpace(entry.PriceRef)
		if priceRef == "" {
			continue
		}
		cap := entry.RolloverCap
		if cap < entry.MonthlyCredits {
			cap = entry.MonthlyCredits
		}
		byPriceRef[priceRef] = Plan{
			PriceRef:       priceRef,
			Tier:           strings.TrimSpace(entry.Tier),
			Name:           strings.TrimSpace(entry.Name),
			MonthlyCredits: entry.MonthlyCredits,
			RolloverCap:    cap,
			TrialCredits:   entry.TrialCredits,
		}
	}
	return &Catalog{byPriceRef: byPriceRef}
}

// ByPriceRef returns the plan for a provider price id.
func (c *Catalog) ByPriceRef(priceRef string) (Plan, error) {
	plan, ok := c.byPriceRef[strings.TrimSpace(priceRef)]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return plan, nil
}

var defaultPlans = []config.PlanConfig{
	{PriceRef: "price_lumora_basic_monthly", Tier: "basic", Name: "Basic", MonthlyCredits: 200, RolloverCap: 400, TrialCredits: 25},
	{PriceRef: "price_lumora_pro_monthly", Tier: "pro", Name: "Pro", MonthlyCredits: 600, RolloverCap: 1200, TrialCredits: 25},
	{PriceRef: "price_lumora_max_monthly", Tier: "max", Name: "Max", MonthlyCredits: 1500, RolloverCap: 3000, TrialCredits: 25},
}
