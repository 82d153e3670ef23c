package budget

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// Record is the per user, per year vacation balance.
type Record struct {
	UserID          int64     `json:"user_id"`
	Year            int       `json:"year"`
	EntitlementDays int       `json:"entitlement_days"`
	TakenDays       int       `json:"taken_days"`
	PlannedDays     int       `json:"planned_days"`
	CarryOverDays   int       `json:"carry_over_days"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Available returns the days that can still be reserved.
func (r Record) Available() int {
	return r.EntitlementDays + r.CarryOverDays - r.TakenDays - r.PlannedDays
}

// Check verifies taken + planned <= entitlement + carry over and that no
// counter is negative.
func (r Record) Check() error {
	if r.EntitlementDays < 0 || r.TakenDays < 0 || r.PlannedDays < 0 || r.CarryOverDays < 0 {
		return fmt.Errorf("%w: negative counter on budget %d/%d", shared.ErrInvalidState, r.UserID, r.Year)
	}
	if r.Available() < 0 {
		return fmt.Errorf("%w: user %d year %d short by %d days", shared.ErrInsufficientBudget, r.UserID, r.Year, -r.Available())
	}
	return nil
}

// EntitlementInput sets the yearly entitlement and carry over.
type EntitlementInput struct {
	UserID          int64 `json:"-"`
	Year            int   `json:"-"`
	EntitlementDays int   `json:"entitlement_days" validate:"gte=0,lte=366"`
	CarryOverDays   int   `json:"carry_over_days" validate:"gte=0,lte=366"`
	ActorID         int64 `json:"-"`
}

// CarryForwardInput moves leftover days of FromYear into ToYear.
type CarryForwardInput struct {
	UserID   int64 `json:"user_id" validate:"required,gt=0"`
	FromYear int   `json:"from_year" validate:"required,gt=0"`
	ToYear   int   `json:"to_year" validate:"required,gt=0"`
	MaxDays  *int  `json:"max_days,omitempty" validate:"omitempty,gte=0"`
	ActorID  int64 `json:"-"`
}

// CarryForwardSummary reports a bulk carry forward run.
type CarryForwardSummary struct {
	FromYear  int     `json:"from_year"`
	ToYear    int     `json:"to_year"`
	Processed int     `json:"processed"`
	Skipped   []int64 `json:"skipped,omitempty"`
	Failed    []int64 `json:"failed,omitempty"`
}
