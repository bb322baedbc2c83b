// Package events publishes audit events about sign-ins, MFA changes and
// session expiry.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	LoginSucceeded         Type = "auth.login.succeeded"
	LoginFailed            Type = "auth.login.failed"
	MFAMethodChanged       Type = "auth.mfa.method_changed"
	BackupCodeConsumed     Type = "auth.backup_code.consumed"
	BackupCodesRegenerated Type = "auth.backup_codes.regenerated"
	SessionExpired         Type = "auth.session.expired"
	SettingsRequest        Type = "auth.settings.request"
)

type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	UserID     string            `json:"user_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New builds an event with a fresh id. userID may be uuid.Nil for events
// about unknown accounts.
func New(t Type, userID uuid.UUID, attrs map[string]string) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Attributes: attrs,
	}
	if userID != uuid.Nil {
		e.UserID = userID.String()
	}
	return e
}

// Publisher sends events. Publishing is best-effort and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// LogPublisher writes events to the log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) {
	slog.Info("Audit event", "type", e.Type, "user_id", e.UserID, "id", e.ID, "attributes", e.Attributes)
}

// MemoryPublisher keeps events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryPublisher) Publish(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the type of every published event, in order.
func (m *MemoryPublisher) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}
