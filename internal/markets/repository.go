package markets

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// ErrMarketNotFound indicates a missing market.
var ErrMarketNotFound = fmt.Errorf("market not found: %w", shared.ErrNotFound)

// ErrMarketInUse is returned when users still reference the market.
var ErrMarketInUse = fmt.Errorf("market still has users: %w", shared.ErrConflict)

// ErrMarketNameTaken indicates another market already uses the name.
var ErrMarketNameTaken = fmt.Errorf("market name taken: %w", shared.ErrConflict)

const nameConstraint = "uq_markets_name"

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const marketColumns = `id, name, address, phone, email, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Market, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += ` AND (name ILIKE $1 OR address ILIKE $1)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM markets`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + marketColumns + ` FROM markets` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)
	args = append(args, filters.Limit, filters.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	markets, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Market])
	if err != nil {
		return nil, 0, err
	}
	return markets, total, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Market, error) {
	rows, err := r.db.Query(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	if err != nil {
		return Market{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Market])
	if errors.Is(err, pgx.ErrNoRows) {
		return Market{}, fmt.Errorf("%w: id %d", ErrMarketNotFound, id)
	}
	return m, err
}

func (r *repository) FindByName(ctx context.Context, name string) (Market, error) {
	rows, err := r.db.Query(ctx, `SELECT `+marketColumns+` FROM markets WHERE lower(name) = lower($1)`, name)
	if err != nil {
		return Market{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Market])
	if errors.Is(err, pgx.ErrNoRows) {
		return Market{}, fmt.Errorf("%w: name %q", ErrMarketNotFound, name)
	}
	return m, err
}

func (r *repository) Create(ctx context.Context, form MarketForm) (Market, error) {
	rows, err := r.db.Query(ctx, `INSERT INTO markets (name, address, phone, email) VALUES ($1, $2, $3, $4)
RETURNING `+marketColumns, form.Name, form.Address, form.Phone, form.Email)
	if err != nil {
		return Market{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Market])
	if db.IsUniqueViolation(err, nameConstraint) {
		return Market{}, fmt.Errorf("%w: %q", ErrMarketNameTaken, form.Name)
	}
	return m, err
}

func (r *repository) Update(ctx context.Context, id int64, form MarketForm) (Market, error) {
	rows, err := r.db.Query(ctx, `UPDATE markets SET name = $2, address = $3, phone = $4, email = $5, updated_at = NOW()
WHERE id = $1 RETURNING `+marketColumns, id, form.Name, form.Address, form.Phone, form.Email)
	if err != nil {
		return Market{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Market])
	if errors.Is(err, pgx.ErrNoRows) {
		return Market{}, fmt.Errorf("%w: id %d", ErrMarketNotFound, id)
	}
	if db.IsUniqueViolation(err, nameConstraint) {
		return Market{}, fmt.Errorf("%w: %q", ErrMarketNameTaken, form.Name)
	}
	return m, err
}

// Delete fails on the users.market_id foreign key while users reference the market.
func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: id %d", ErrMarketInUse, id)
		}
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrMarketNotFound, id)
	}
	return nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "created_at":
		return "created_at " + dir + ", id"
	default:
		return "name " + dir + ", id"
	}
}
