// Package session persists chat sessions and their ordered messages in
// PostgreSQL. A session belongs to one user; messages carry gapless
// sequence numbers assigned inside a row-locked transaction, so two
// concurrent writers to the same session cannot collide.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the accepted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidRole indicates a message with a role other than
	// user or assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// Session is one conversation owned by a user.
type Session struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn within a session. Seq is 1-based and strictly
// increasing within the session.
type Message struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Seq       int32
	Role      Role
	Content   string
	CreatedAt time.Time
}
