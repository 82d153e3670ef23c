package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are carried in bearer tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token is returned after a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      int64     `json:"user_id"`
	Role        string    `json:"role"`
}

// ResetResult reports a completed password reset. Generated holds the new
// password only when it was generated server side; it is shown once.
type ResetResult struct {
	UserID    int64  `json:"user_id"`
	Generated string `json:"generated_password,omitempty"`
}
