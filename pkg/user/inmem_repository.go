package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]User
	usersByMail map[string]uuid.UUID
	codes       map[uuid.UUID][]*BackupCode // userID -> current batch
	now         func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:       make(map[uuid.UUID]User),
		usersByMail: make(map[string]uuid.UUID),
		codes:       make(map[uuid.UUID][]*BackupCode),
		now:         time.Now,
	}
}

func (r *InMemoryRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.usersByMail[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *InMemoryRepository) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *InMemoryRepository) CreateUser(ctx context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u.Email = NormalizeEmail(u.Email)
	if _, exists := r.usersByMail[u.Email]; exists {
		return User{}, ErrUserExists
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.AuthProvider == "" {
		u.AuthProvider = ProviderCredentials
	}
	now := r.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	r.users[u.ID] = u
	r.usersByMail[u.Email] = u.ID
	return u, nil
}

func (r *InMemoryRepository) UpdateUser(ctx context.Context, id uuid.UUID, patch Patch) (User, error) {
	if patch.IsEmpty() {
		return User{}, ErrEmptyPatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}

	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Image != nil {
		u.Image = *patch.Image
	}
	if patch.Active != nil {
		u.Active = *patch.Active
	}
	if patch.MFA != nil {
		u.MFA = *patch.MFA
	}
	if patch.LastLoginAt != nil {
		at := *patch.LastLoginAt
		u.LastLoginAt = &at
	}
	u.UpdatedAt = r.now().UTC()

	r.users[id] = u
	return u, nil
}

func (r *InMemoryRepository) CreateBackupCodes(ctx context.Context, userID uuid.UUID, hashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return ErrUserNotFound
	}

	batchID := uuid.New()
	now := r.now().UTC()
	batch := make([]*BackupCode, 0, len(hashes))
	for _, h := range hashes {
		batch = append(batch, &BackupCode{
			ID:        uuid.New(),
			UserID:    userID,
			BatchID:   batchID,
			CodeHash:  h,
			CreatedAt: now,
		})
	}
	r.codes[userID] = batch
	return nil
}

func (r *InMemoryRepository) ListUnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]BackupCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var unused []BackupCode
	for _, c := range r.codes[userID] {
		if !c.Used {
			unused = append(unused, *c)
		}
	}
	sort.SliceStable(unused, func(i, j int) bool {
		return unused[i].CreatedAt.Before(unused[j].CreatedAt)
	})
	return unused, nil
}

func (r *InMemoryRepository) CountUnusedBackupCodes(ctx context.Context, userID uuid.UUID) (int, error) {
	codes, err := r.ListUnusedBackupCodes(ctx, userID)
	return len(codes), err
}

func (r *InMemoryRepository) MarkBackupCodeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, batch := range r.codes {
		for _, c := range batch {
			if c.ID != id {
				continue
			}
			if c.Used {
				return false, nil
			}
			at := usedAt.UTC()
			c.Used = true
			c.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}
