package school

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/quota"
)

const (
	gib = int64(1024 * 1024 * 1024)

	// EnterpriseMinSeats is the smallest seat quantity the per-seat tier sells.
	EnterpriseMinSeats = 4
)

// fixed tier ceilings; ENTERPRISE scales per seat, see LimitsFor.
var planLimits = map[Plan]quota.Limits{
	PlanFree: {
		MaxClasses:      3,
		MaxMembers:      2,
		MaxSubjects:     3,
		MaxStorageBytes: 1 * gib,
	},
	PlanBasic: {
		MaxClasses:      10,
		MaxMembers:      5,
		MaxSubjects:     10,
		MaxStorageBytes: 15 * gib,
	},
	PlanPremium: {
		MaxClasses:      20,
		MaxMembers:      15,
		MaxSubjects:     40,
		MaxStorageBytes: 100 * gib,
	},
}

// per-seat ceilings for the ENTERPRISE tier
var enterpriseSeatLimits = quota.Limits{
	MaxClasses:      10,
	MaxMembers:      1,
	MaxSubjects:     20,
	MaxStorageBytes: 25 * gib,
}

var ErrUnknownPrice = errors.New("no plan configured for this price")

// Catalog maps plan tiers to their ceilings and provider price IDs.
// Immutable after construction; safe for concurrent use.
type Catalog struct {
	priceByPlan map[Plan]string
	planByPrice map[string]Plan
}

func NewCatalog(conf core.StripeConfig) *Catalog {
	priceByPlan := map[Plan]string{
		PlanBasic:      conf.BasicPriceID,
		PlanPremium:    conf.PremiumPriceID,
		PlanEnterprise: conf.EnterprisePriceID,
	}
	planByPrice := make(map[string]Plan, len(priceByPlan))
	for plan, priceID := range priceByPlan {
		if priceID != "" {
			planByPrice[priceID] = plan
		}
	}
	return &Catalog{priceByPlan: priceByPlan, planByPrice: planByPrice}
}

// LimitsFor returns the ceilings for a plan. `quantity` is the seat
// count and only affects the per-seat ENTERPRISE tier.
func LimitsFor(plan Plan, quantity int64) quota.Limits {
	if plan == PlanEnterprise {
		if quantity < 1 {
			quantity = 1
		}
		return quota.Limits{
			MaxClasses:      enterpriseSeatLimits.MaxClasses * int(quantity),
			MaxMembers:      enterpriseSeatLimits.MaxMembers * int(quantity),
			MaxSubjects:     enterpriseSeatLimits.MaxSubjects * int(quantity),
			MaxStorageBytes: enterpriseSeatLimits.MaxStorageBytes * quantity,
		}
	}
	if limits, ok := planLimits[plan]; ok {
		return limits
	}
	return planLimits[PlanFree]
}

// PriceRefFor returns the provider price ID selling the given plan.
func (c *Catalog) PriceRefFor(plan Plan) (string, error) {
	if priceID, ok := c.priceByPlan[plan]; ok && priceID != "" {
		return priceID, nil
	}
	return "", ErrUnknownPrice
}

// PlanForPrice resolves the plan tier a provider price ID sells.
func (c *Catalog) PlanForPrice(priceID string) (Plan, error) {
	if plan, ok := c.planByPrice[priceID]; ok {
		return plan, nil
	}
	return "", ErrUnknownPrice
}

// PlanFromProductName maps a provider product title to a plan tier.
// Provider-side products are named after the tiers ("Tatuga Premium" etc).
func PlanFromProductName(name string) (Plan, bool) {
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "enterprise"):
		return PlanEnterprise, true
	case strings.Contains(name, "premium"):
		return PlanPremium, true
	case strings.Contains(name, "basic"):
		return PlanBasic, true
	case strings.Contains(name, "free"):
		return PlanFree, true
	}
	return "", false
}
