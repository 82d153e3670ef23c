package users

import "time"

// User represents an employee or admin account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	MarketID     *int64    `json:"market_id,omitempty"`
	Department   string    `json:"department"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MaxPasswordBytes is the longest password bcrypt accepts, in bytes.
const MaxPasswordBytes = 72

// CreateInput carries a new account. Password is plaintext and never stored.
type CreateInput struct {
	Username   string `json:"username" validate:"required,min=3,max=64"`
	Email      string `json:"email" validate:"required,email,max=254"`
	FullName   string `json:"full_name" validate:"required,max=120"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Role       string `json:"role" validate:"required,oneof=admin employee"`
	MarketID   *int64 `json:"market_id" validate:"omitempty,gt=0"`
	Department string `json:"department" validate:"max=120"`
}

// ListFilter narrows ListUsers.
type ListFilter struct {
	MarketID   *int64
	ActiveOnly bool
}
