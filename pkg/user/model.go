package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/portal-auth/pkg/mfa"
)

const (
	ProviderCredentials = "credentials"
	ProviderGoogle      = "google"
)

// User is an account that can sign in to the portal.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Active       bool
	AuthProvider string
	Image        string
	MFA          mfa.State
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// BackupCode is one hashed recovery code. A used code stays used.
type BackupCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	BatchID   uuid.UUID
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Patch lists the user fields to change. Nil fields are left alone. MFA is
// written as a whole so the active method and its secrets change together.
type Patch struct {
	Name        *string
	Image       *string
	Active      *bool
	MFA         *mfa.State
	LastLoginAt *time.Time
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Image == nil && p.Active == nil && p.MFA == nil && p.LastLoginAt == nil
}

// NormalizeEmail is the lookup form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
