package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrEmptyPatch   = errors.New("patch has no fields")
)

// Repository is the storage the authentication core reads and writes.
type Repository interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, patch Patch) (User, error)

	// CreateBackupCodes replaces every existing code of the user with a new batch.
	CreateBackupCodes(ctx context.Context, userID uuid.UUID, hashes []string) error
	ListUnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]BackupCode, error)
	CountUnusedBackupCodes(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkBackupCodeUsed flips an unused code to used. It reports false when
	// the code was already used, so only one caller can consume a code.
	MarkBackupCodeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
}
