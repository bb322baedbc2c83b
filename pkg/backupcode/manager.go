package backupcode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/portal-auth/pkg/user"
	"golang.org/x/crypto/bcrypt"
)

// Store is the part of the user repository the manager needs.
type Store interface {
	CreateBackupCodes(ctx context.Context, userID uuid.UUID, hashes []string) error
	ListUnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]user.BackupCode, error)
	CountUnusedBackupCodes(ctx context.Context, userID uuid.UUID) (int, error)
	MarkBackupCodeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
}

type Manager struct {
	store Store
	count int
	cost  int
	now   func() time.Time
}

type Option func(*Manager)

func WithCount(count int) Option {
	return func(m *Manager) {
		if count > 0 {
			m.count = count
		}
	}
}

// WithCost sets the bcrypt cost used for new codes.
func WithCost(cost int) Option {
	return func(m *Manager) {
		m.cost = cost
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		count: DefaultCount,
		cost:  bcrypt.DefaultCost,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Regenerate issues a new batch for the user, superseding any earlier codes,
// and returns the codes formatted for display. Plain codes are never stored.
func (m *Manager) Regenerate(ctx context.Context, userID uuid.UUID) ([]string, error) {
	codes, err := Generate(m.count)
	if err != nil {
		return nil, err
	}

	hashes, err := hashWithCost(codes, m.cost)
	if err != nil {
		return nil, err
	}

	if err := m.store.CreateBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	slog.Info("Backup codes regenerated", "user_id", userID, "count", len(codes))
	return Format(codes), nil
}

// Consume redeems input against the user's unused codes. It returns true
// only when this call is the one that marked a matching code used.
func (m *Manager) Consume(ctx context.Context, userID uuid.UUID, input string) (bool, error) {
	if len(Normalize(input)) != CodeLength {
		return false, nil
	}

	codes, err := m.store.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list backup codes: %w", err)
	}

	for _, c := range codes {
		if !Verify(input, c.CodeHash) {
			continue
		}

		marked, err := m.store.MarkBackupCodeUsed(ctx, c.ID, m.now())
		if err != nil {
			return false, fmt.Errorf("failed to mark backup code used: %w", err)
		}
		if !marked {
			slog.Warn("Backup code was redeemed concurrently", "user_id", userID, "code_id", c.ID)
			return false, nil
		}

		slog.Info("Backup code consumed", "user_id", userID, "code_id", c.ID)
		return true, nil
	}

	return false, nil
}

// Remaining returns how many unused codes the user has.
func (m *Manager) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	return m.store.CountUnusedBackupCodes(ctx, userID)
}
