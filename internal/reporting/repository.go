package reporting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository runs the dashboard queries against PostgreSQL. Only active
// users are counted.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Headcount counts active users and markets.
func (r *PgRepository) Headcount(ctx context.Context) (Headcount, error) {
	var hc Headcount
	err := r.pool.QueryRow(ctx, `SELECT
    (SELECT COUNT(*) FROM users WHERE is_active),
    (SELECT COUNT(*) FROM markets)`).Scan(&hc.ActiveUsers, &hc.Markets)
	return hc, err
}

// RequestsByStatus counts requests with days allocated in year.
func (r *PgRepository) RequestsByStatus(ctx context.Context, year int) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT vr.status, COUNT(DISTINCT vr.id)
FROM vacation_requests vr
JOIN vacation_request_allocations a ON a.request_id = vr.id
JOIN users u ON u.id = vr.user_id
WHERE u.is_active AND a.year = $1
GROUP BY vr.status`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// BudgetTotals sums budget counters for year.
func (r *PgRepository) BudgetTotals(ctx context.Context, year int) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT
    COALESCE(SUM(b.entitlement_days), 0),
    COALESCE(SUM(b.taken_days), 0),
    COALESCE(SUM(b.planned_days), 0),
    COALESCE(SUM(b.carry_over_days), 0)
FROM budgets b JOIN users u ON u.id = b.user_id
WHERE u.is_active AND b.year = $1`, year).Scan(&t.EntitlementDays, &t.TakenDays, &t.PlannedDays, &t.CarryOverDays)
	return t, err
}

// MarketBreakdown groups active users and their budgets by market.
func (r *PgRepository) MarketBreakdown(ctx context.Context, year int) ([]MarketRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT
    COALESCE(m.id, 0), COALESCE(m.name, ''), COUNT(u.id),
    COALESCE(SUM(b.entitlement_days), 0),
    COALESCE(SUM(b.taken_days), 0),
    COALESCE(SUM(b.planned_days), 0),
    COALESCE(SUM(b.carry_over_days), 0)
FROM users u
LEFT JOIN markets m ON m.id = u.market_id
LEFT JOIN budgets b ON b.user_id = u.id AND b.year = $1
WHERE u.is_active
GROUP BY m.id, m.name
ORDER BY COALESCE(m.name, '')`, year)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MarketRow, error) {
		var m MarketRow
		err := row.Scan(&m.MarketID, &m.MarketName, &m.ActiveUsers,
			&m.EntitlementDays, &m.TakenDays, &m.PlannedDays, &m.CarryOverDays)
		return m, err
	})
}
