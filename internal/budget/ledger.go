package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// ErrRecordNotFound indicates a missing (user, year) budget row.
var ErrRecordNotFound = fmt.Errorf("budget record not found: %w", shared.ErrNotFound)

// TxStore exposes the row locked budget operations used inside a transaction.
// The vacation engine shares it so request rows and budget rows commit together.
type TxStore interface {
	// GetForUpdate locks an existing row, returning ErrRecordNotFound when absent.
	GetForUpdate(ctx context.Context, userID int64, year int) (Record, error)
	// EnsureForUpdate creates the row with defaultEntitlement when absent, then locks it.
	EnsureForUpdate(ctx context.Context, userID int64, year int, defaultEntitlement int) (Record, error)
	Save(ctx context.Context, rec Record) (Record, error)
}

// Ledger applies budget arithmetic to locked rows. It holds no state besides
// the entitlement used for rows created on demand.
type Ledger struct {
	DefaultEntitlement int
}

// Reserve moves days into planned if the balance allows it.
func (l Ledger) Reserve(ctx context.Context, tx TxStore, userID int64, year, days int) (Record, error) {
	if err := positiveDays(days); err != nil {
		return Record{}, err
	}
	rec, err := tx.EnsureForUpdate(ctx, userID, year, l.DefaultEntitlement)
	if err != nil {
		return Record{}, err
	}
	if rec.Available() < days {
		return Record{}, fmt.Errorf("%w: user %d year %d requested %d, available %d",
			shared.ErrInsufficientBudget, userID, year, days, rec.Available())
	}
	rec.PlannedDays += days
	return tx.Save(ctx, rec)
}

// Commit converts planned days into taken days.
func (l Ledger) Commit(ctx context.Context, tx TxStore, userID int64, year, days int) (Record, error) {
	rec, err := l.lockPlanned(ctx, tx, userID, year, days)
	if err != nil {
		return Record{}, err
	}
	rec.PlannedDays -= days
	rec.TakenDays += days
	return tx.Save(ctx, rec)
}

// Release returns planned days to the available balance.
func (l Ledger) Release(ctx context.Context, tx TxStore, userID int64, year, days int) (Record, error) {
	rec, err := l.lockPlanned(ctx, tx, userID, year, days)
	if err != nil {
		return Record{}, err
	}
	rec.PlannedDays -= days
	return tx.Save(ctx, rec)
}

// CarryForward overwrites the carry over of toYear with the leftover of
// fromYear capped at maxDays. Years are locked in ascending order.
func (l Ledger) CarryForward(ctx context.Context, tx TxStore, userID int64, fromYear, toYear, maxDays int) (Record, error) {
	if toYear <= fromYear {
		return Record{}, fmt.Errorf("%w: carry forward from %d to %d", shared.ErrInvalidRange, fromYear, toYear)
	}
	if maxDays < 0 {
		return Record{}, fmt.Errorf("%w: max carry over must not be negative", shared.ErrValidation)
	}
	from, err := tx.GetForUpdate(ctx, userID, fromYear)
	if err != nil {
		return Record{}, err
	}
	to, err := tx.EnsureForUpdate(ctx, userID, toYear, l.DefaultEntitlement)
	if err != nil {
		return Record{}, err
	}
	to.CarryOverDays = Leftover(from, maxDays)
	if err := to.Check(); err != nil {
		return Record{}, err
	}
	return tx.Save(ctx, to)
}

// SetEntitlement replaces entitlement and carry over while keeping the
// balance invariant for days already planned or taken.
func (l Ledger) SetEntitlement(ctx context.Context, tx TxStore, in EntitlementInput) (Record, error) {
	if in.EntitlementDays < 0 || in.CarryOverDays < 0 {
		return Record{}, fmt.Errorf("%w: entitlement and carry over must not be negative", shared.ErrValidation)
	}
	rec, err := tx.EnsureForUpdate(ctx, in.UserID, in.Year, in.EntitlementDays)
	if err != nil {
		return Record{}, err
	}
	rec.EntitlementDays = in.EntitlementDays
	rec.CarryOverDays = in.CarryOverDays
	if err := rec.Check(); err != nil {
		return Record{}, err
	}
	return tx.Save(ctx, rec)
}

// Leftover is the unused balance of rec, floored at zero and capped at maxDays.
func Leftover(rec Record, maxDays int) int {
	left := rec.Available()
	if left < 0 {
		left = 0
	}
	if left > maxDays {
		left = maxDays
	}
	return left
}

func (l Ledger) lockPlanned(ctx context.Context, tx TxStore, userID int64, year, days int) (Record, error) {
	if err := positiveDays(days); err != nil {
		return Record{}, err
	}
	rec, err := tx.GetForUpdate(ctx, userID, year)
	if errors.Is(err, ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: no budget for user %d year %d", shared.ErrInvalidState, userID, year)
	}
	if err != nil {
		return Record{}, err
	}
	if rec.PlannedDays < days {
		return Record{}, fmt.Errorf("%w: user %d year %d has %d planned days, cannot settle %d",
			shared.ErrInvalidState, userID, year, rec.PlannedDays, days)
	}
	return rec, nil
}

func positiveDays(days int) error {
	if days <= 0 {
		return fmt.Errorf("%w: days must be positive, got %d", shared.ErrValidation, days)
	}
	return nil
}
