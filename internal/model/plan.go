package model

// Plan is a named pricing tier. It determines the daily call budget a key
// receives at issuance. The quota is copied onto the key record at creation,
// so changing a tier here never retroactively alters already-issued keys.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// DefaultPlan is applied when issuance does not name a plan.
const DefaultPlan = PlanFree

var planQuotas = map[Plan]int{
	PlanFree:       100,
	PlanPro:        2000,
	PlanEnterprise: 50000,
}

// QuotaFor resolves a plan to its daily call quota. The second return value
// is false for unknown plans.
func QuotaFor(p Plan) (int, bool) {
	q, ok := planQuotas[p]
	return q, ok
}

// Valid reports whether p names a known plan.
func (p Plan) Valid() bool {
	_, ok := planQuotas[p]
	return ok
}

// Plans returns the known plan names, for validation messages and docs.
func Plans() []Plan {
	return []Plan{PlanFree, PlanPro, PlanEnterprise}
}
