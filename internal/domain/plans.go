package domain

import "time"

// Plan is a recurring price tier that grants a token allotment per period.
type Plan struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TokensPerCycle int64  `json:"tokensPerCycle"`
	Interval       string `json:"interval"`   // month or year
	PriceCents     int64  `json:"priceCents"` // EUR cents
	PriceRef       string `json:"-"`          // payment processor price id
	Popular        bool   `json:"popular"`
}

// PlanCatalog resolves plans by id or by processor price reference.
type PlanCatalog struct {
	plans []Plan
}

// DefaultPlans returns the built-in tiers with the given processor price ids.
func DefaultPlans(basicPrice, proPrice, enterprisePrice string) []Plan {
	return []Plan{
		{
			ID:             "basic",
			Name:           "Blog Basic",
			TokensPerCycle: 100,
			Interval:       "month",
			PriceCents:     2990,
			PriceRef:       basicPrice,
		},
		{
			ID:             "pro",
			Name:           "Blog Pro",
			TokensPerCycle: 500,
			Interval:       "month",
			PriceCents:     5990,
			PriceRef:       proPrice,
			Popular:        true,
		},
		{
			ID:             "enterprise",
			Name:           "Blog Enterprise",
			TokensPerCycle: 10000,
			Interval:       "year",
			PriceCents:     9990,
			PriceRef:       enterprisePrice,
		},
	}
}

// NewPlanCatalog creates a catalog over the given plans.
func NewPlanCatalog(plans []Plan) *PlanCatalog {
	return &PlanCatalog{plans: plans}
}

// All returns every plan in display order.
func (c *PlanCatalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Get returns the plan for a given ID.
func (c *PlanCatalog) Get(id string) (Plan, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// ByPriceRef returns the plan whose processor price id matches ref.
func (c *PlanCatalog) ByPriceRef(ref string) (Plan, bool) {
	if ref == "" {
		return Plan{}, false
	}
	for _, p := range c.plans {
		if p.PriceRef == ref {
			return p, true
		}
	}
	return Plan{}, false
}

// Rank orders plans by tier, lowest first. Unknown ids rank -1.
func (c *PlanCatalog) Rank(id string) int {
	for i, p := range c.plans {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// CheckoutRequest is the input for starting a subscription checkout.
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=basic pro enterprise"`
}

// UpgradeRequest moves an active subscription to a higher tier.
type UpgradeRequest struct {
	Plan string `json:"plan" validate:"required,oneof=pro enterprise"`
}

// TokenPurchaseRequest is the input for a one-off token purchase.
type TokenPurchaseRequest struct {
	Quantity int64 `json:"quantity" validate:"required,min=1,max=100000"`
}

// CheckoutResponse returns the URL to redirect the user to for payment.
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// SubscriptionStatusResponse reports the subscription as seen by the caller.
type SubscriptionStatusResponse struct {
	Status            SubscriptionStatus `json:"status"`
	Plan              string             `json:"plan,omitempty"`
	CurrentPeriodEnd  *time.Time         `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
	Tokens            int64              `json:"tokens"`
}
