// Package auth issues and checks the HS256 session tokens that guard the
// feedback triage surface.
package auth

import "github.com/golang-jwt/jwt/v5"

// Roles carried in Claims.Role.
const (
	RoleAdmin    = "admin"
	RoleReporter = "reporter"
)

// Claims identifies a signed-in user.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the claims grant triage access.
func (c *Claims) IsAdmin() bool { return c != nil && c.Role == RoleAdmin }
