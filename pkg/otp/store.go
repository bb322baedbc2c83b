package otp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCodeNotFound   = errors.New("otp code not found or expired")
	ErrTicketNotFound = errors.New("ticket not found or expired")
)

// CodeRecord is a pending one-time code. Only the hash is kept.
type CodeRecord struct {
	Hash      string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Ticket is proof that a user passed a step of the login flow.
type Ticket struct {
	UserID    uuid.UUID  `json:"user_id"`
	Kind      TicketKind `json:"kind"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Store keeps codes and tickets until they are used or expire.
type Store interface {
	SaveCode(ctx context.Context, key string, rec CodeRecord, ttl time.Duration) error
	GetCode(ctx context.Context, key string) (CodeRecord, error)
	IncrementAttempts(ctx context.Context, key string) (int, error)
	DeleteCode(ctx context.Context, key string) error
	// TakeCode deletes the code only while it still carries hash, and
	// reports whether this call was the one that deleted it.
	TakeCode(ctx context.Context, key, hash string) (bool, error)

	SaveTicket(ctx context.Context, token string, ticket Ticket, ttl time.Duration) error
	// TakeTicket returns the ticket and deletes it in one step.
	TakeTicket(ctx context.Context, token string) (Ticket, error)
}
