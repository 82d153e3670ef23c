package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// ErrUserNotFound indicates a missing user.
var ErrUserNotFound = fmt.Errorf("user not found: %w", shared.ErrNotFound)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, username, email, full_name, password_hash, role, market_id, department, is_active, created_at, updated_at`

// Create inserts a user. The partial unique indexes close the race left by
// the pre-check in the service.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (username, username_norm, email, email_norm, full_name, password_hash, role, market_id, department, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
RETURNING `+userColumns,
		u.Username, shared.NormalizeLogin(u.Username), u.Email, shared.NormalizeLogin(u.Email),
		u.FullName, u.PasswordHash, u.Role, nullableID(u.MarketID), u.Department)
	created, err := scanUser(row)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "uq_users_active_username"):
			return User{}, fmt.Errorf("%w: username %q already in use", shared.ErrConflict, u.Username)
		case db.IsUniqueViolation(err, "uq_users_active_email"):
			return User{}, fmt.Errorf("%w: email %q already in use", shared.ErrConflict, u.Email)
		case db.IsForeignKeyViolation(err):
			return User{}, fmt.Errorf("%w: market", shared.ErrNotFound)
		}
		return User{}, db.Classify(err)
	}
	return created, nil
}

// Get returns a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	return u, err
}

// FindActiveByLogin matches a normalised username or email.
func (r *Repository) FindActiveByLogin(ctx context.Context, login string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users
WHERE is_active AND (username_norm = $1 OR email_norm = $1)
ORDER BY id LIMIT 1`, login))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// ActiveLoginTaken reports whether an active user holds the username or email.
func (r *Repository) ActiveLoginTaken(ctx context.Context, usernameNorm, emailNorm string) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM users WHERE is_active AND (username_norm = $1 OR email_norm = $2)
)`, usernameNorm, emailNorm).Scan(&taken)
	return taken, err
}

// Deactivate flips is_active and keeps the row for history.
func (r *Repository) Deactivate(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `UPDATE users SET is_active = FALSE, updated_at = NOW()
WHERE id = $1 RETURNING `+userColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	return u, err
}

// SetPasswordHash replaces the password hash.
func (r *Repository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	return nil
}

// List returns a page of users and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter, window shared.ListFilters) ([]User, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ActiveOnly {
		where += ` AND is_active`
	}
	if filter.MarketID != nil {
		args = append(args, *filter.MarketID)
		where += ` AND market_id = $` + strconv.Itoa(len(args))
	}
	if window.Search != "" {
		args = append(args, "%"+window.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (username ILIKE $` + n + ` OR full_name ILIKE $` + n + ` OR email ILIKE $` + n + `)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, window.Limit, window.Offset())
	query := `SELECT ` + userColumns + ` FROM users` + where + ` ORDER BY ` + sortOrder(window.SortBy, window.SortDir) +
		` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var market pgtype.Int8
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash, &u.Role, &market,
		&u.Department, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if market.Valid {
		v := market.Int64
		u.MarketID = &v
	}
	return u, nil
}

func nullableID(id *int64) pgtype.Int8 {
	if id == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *id, Valid: true}
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "username":
		return "username " + dir + ", id"
	case "created_at":
		return "created_at " + dir + ", id"
	default:
		return "full_name " + dir + ", id"
	}
}
