package vacation

import (
	"time"
)

// Status enumerates request lifecycle states.
type Status string

const (
	// StatusPending is the initial state holding planned days.
	StatusPending Status = "pending"
	// StatusApproved means the days were committed as taken.
	StatusApproved Status = "approved"
	// StatusRejected means an admin declined the request.
	StatusRejected Status = "rejected"
	// StatusCancelled means the requester withdrew the request.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Allocation is the share of a request charged to one budget year.
type Allocation struct {
	Year int `json:"year"`
	Days int `json:"days"`
}

// Request is a vacation request.
type Request struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	Days         int          `json:"days"`
	Allocations  []Allocation `json:"allocations"`
	Status       Status       `json:"status"`
	Description  string       `json:"description"`
	ApprovedBy   *int64       `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time   `json:"approved_at,omitempty"`
	RejectReason string       `json:"reject_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Actor is the slice of a user the engine needs for authorisation.
type Actor struct {
	ID       int64
	Role     string
	IsActive bool
}

// SubmitInput carries a new request. ActorID names the principal filing it
// and defaults to UserID.
type SubmitInput struct {
	UserID         int64
	ActorID        int64
	StartDate      time.Time
	EndDate        time.Time
	Description    string
	IdempotencyKey string
}

// Transition describes a CAS status change away from pending.
type Transition struct {
	To           Status
	ActorID      int64
	At           time.Time
	RejectReason string
}

// ListFilter narrows ListForUser.
type ListFilter struct {
	Status Status
	Year   int
}

// Decision is emitted after a request leaves pending.
type Decision struct {
	RequestID int64  `json:"request_id"`
	UserID    int64  `json:"user_id"`
	ActorID   int64  `json:"actor_id"`
	Status    Status `json:"status"`
	Days      int    `json:"days"`
	Reason    string `json:"reason,omitempty"`
}
