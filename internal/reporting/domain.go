package reporting

import "time"

// Totals sums budget counters.
type Totals struct {
	EntitlementDays int `json:"entitlement_days"`
	TakenDays       int `json:"taken_days"`
	PlannedDays     int `json:"planned_days"`
	CarryOverDays   int `json:"carry_over_days"`
}

// Add accumulates other into t.
func (t *Totals) Add(other Totals) {
	t.EntitlementDays += other.EntitlementDays
	t.TakenDays += other.TakenDays
	t.PlannedDays += other.PlannedDays
	t.CarryOverDays += other.CarryOverDays
}

// Headcount counts active users and markets.
type Headcount struct {
	ActiveUsers int `json:"active_users"`
	Markets     int `json:"markets"`
}

// MarketRow is the per market breakdown. MarketID is zero for users
// without a market.
type MarketRow struct {
	MarketID    int64  `json:"market_id"`
	MarketName  string `json:"market_name"`
	ActiveUsers int    `json:"active_users"`
	Totals
}

// Dashboard is the yearly projection over active users.
type Dashboard struct {
	Year        int            `json:"year"`
	ActiveUsers int            `json:"active_users"`
	Markets     int            `json:"markets"`
	Requests    map[string]int `json:"requests_by_status"`
	Budget      Totals         `json:"budget"`
	PerMarket   []MarketRow    `json:"per_market"`
	GeneratedAt time.Time      `json:"generated_at"`
}
