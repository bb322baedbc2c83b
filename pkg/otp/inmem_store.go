package otp

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a Store for tests and single-instance deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	codes   map[string]CodeRecord
	tickets map[string]Ticket
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		codes:   make(map[string]CodeRecord),
		tickets: make(map[string]Ticket),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) SaveCode(_ context.Context, key string, rec CodeRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ExpiresAt = s.now().Add(ttl)
	s.codes[key] = rec
	return nil
}

func (s *InMemoryStore) GetCode(_ context.Context, key string) (CodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveCode(key)
}

func (s *InMemoryStore) liveCode(key string) (CodeRecord, error) {
	rec, ok := s.codes[key]
	if !ok {
		return CodeRecord{}, ErrCodeNotFound
	}
	if !s.now().Before(rec.ExpiresAt) {
		delete(s.codes, key)
		return CodeRecord{}, ErrCodeNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) IncrementAttempts(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.liveCode(key)
	if err != nil {
		return 0, err
	}
	rec.Attempts++
	s.codes[key] = rec
	return rec.Attempts, nil
}

func (s *InMemoryStore) DeleteCode(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, key)
	return nil
}

func (s *InMemoryStore) TakeCode(_ context.Context, key, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.liveCode(key)
	if err != nil || rec.Hash != hash {
		return false, nil
	}
	delete(s.codes, key)
	return true, nil
}

func (s *InMemoryStore) SaveTicket(_ context.Context, token string, ticket Ticket, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket.ExpiresAt = s.now().Add(ttl)
	s.tickets[token] = ticket
	return nil
}

func (s *InMemoryStore) TakeTicket(_ context.Context, token string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[token]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	delete(s.tickets, token)
	if !s.now().Before(ticket.ExpiresAt) {
		return Ticket{}, ErrTicketNotFound
	}
	return ticket, nil
}

var _ Store = (*InMemoryStore)(nil)
