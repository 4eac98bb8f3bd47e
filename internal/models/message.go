package models

import (
	"errors"
	"fmt"
	"time"
)

// Role tags who authored a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrInvalidRole marks an attempt to use a role outside the enumerated set.
// Hitting it means a caller bug, not a runtime condition.
var ErrInvalidRole = errors.New("invalid role")

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// CheckRole returns a wrapped ErrInvalidRole for roles outside the enum.
func CheckRole(r Role) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, string(r))
	}
	return nil
}

// Message is one entry of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
