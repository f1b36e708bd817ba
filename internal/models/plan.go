package models

import "fmt"

// Plan is a credit pack tier. The set is closed: anything that does not
// parse into one of the constants below is rejected before it reaches
// storage or the payment gateway.
type Plan string

const (
	PlanBasic    Plan = "Basic"
	PlanAdvanced Plan = "Advanced"
	PlanBusiness Plan = "Business"
)

// PlanPricing is the fixed credits-for-amount pair of a tier. Amount is in
// major currency units; the gateway client converts to minor units.
type PlanPricing struct {
	Credits int64 `json:"credits"`
	Amount  int64 `json:"amount"`
}

var planTable = map[Plan]PlanPricing{
	PlanBasic:    {Credits: 100, Amount: 10},
	PlanAdvanced: {Credits: 500, Amount: 50},
	PlanBusiness: {Credits: 5000, Amount: 250},
}

// ParsePlan validates a tier name coming off the wire.
func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if _, ok := planTable[p]; !ok {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

// Pricing returns the fixed pricing of a tier. The second return is false
// for tiers outside the closed set.
func (p Plan) Pricing() (PlanPricing, bool) {
	pricing, ok := planTable[p]
	return pricing, ok
}
