package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "portal-auth"

	fieldHash      = "hash"
	fieldAttempts  = "attempts"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// takeCodeScript deletes the code hash only while its hash field matches.
var takeCodeScript = red.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps codes as hashes and tickets as plain keys, both with a TTL.
type RedisStore struct {
	client *red.Client
	prefix string
}

func NewRedisStore(client *red.Client, keyPrefix string) *RedisStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) codeKey(key string) string {
	return s.prefix + ":otp:" + key
}

func (s *RedisStore) ticketKey(token string) string {
	return s.prefix + ":ticket:" + token
}

func (s *RedisStore) SaveCode(ctx context.Context, key string, rec CodeRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	k := s.codeKey(key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, map[string]any{
		fieldHash:      rec.Hash,
		fieldAttempts:  strconv.Itoa(rec.Attempts),
		fieldCreatedAt: strconv.FormatInt(rec.CreatedAt.Unix(), 10),
		fieldExpiresAt: strconv.FormatInt(rec.ExpiresAt.Unix(), 10),
	})
	pipe.Expire(ctx, k, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store otp: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCode(ctx context.Context, key string) (CodeRecord, error) {
	values, err := s.client.HGetAll(ctx, s.codeKey(key)).Result()
	if err != nil {
		return CodeRecord{}, fmt.Errorf("redis hgetall otp: %w", err)
	}
	if len(values) == 0 || values[fieldHash] == "" {
		return CodeRecord{}, ErrCodeNotFound
	}

	rec := CodeRecord{Hash: values[fieldHash]}
	if v, err := strconv.Atoi(values[fieldAttempts]); err == nil {
		rec.Attempts = v
	}
	if v, err := strconv.ParseInt(values[fieldCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(v, 0).UTC()
	}
	if v, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64); err == nil {
		rec.ExpiresAt = time.Unix(v, 0).UTC()
	}
	return rec, nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, key string) (int, error) {
	k := s.codeKey(key)
	exists, err := s.client.Exists(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("redis exists otp: %w", err)
	}
	if exists == 0 {
		return 0, ErrCodeNotFound
	}

	count, err := s.client.HIncrBy(ctx, k, fieldAttempts, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrby otp attempts: %w", err)
	}
	return int(count), nil
}

func (s *RedisStore) DeleteCode(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.codeKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete otp: %w", err)
	}
	return nil
}

func (s *RedisStore) TakeCode(ctx context.Context, key, hash string) (bool, error) {
	n, err := takeCodeScript.Run(ctx, s.client, []string{s.codeKey(key)}, fieldHash, hash).Int()
	if err != nil {
		return false, fmt.Errorf("redis take otp: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) SaveTicket(ctx context.Context, token string, ticket Ticket, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	if err := s.client.Set(ctx, s.ticketKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set ticket: %w", err)
	}
	return nil
}

func (s *RedisStore) TakeTicket(ctx context.Context, token string) (Ticket, error) {
	data, err := s.client.GetDel(ctx, s.ticketKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return Ticket{}, ErrTicketNotFound
		}
		return Ticket{}, fmt.Errorf("redis getdel ticket: %w", err)
	}

	var ticket Ticket
	if err := json.Unmarshal(data, &ticket); err != nil {
		return Ticket{}, fmt.Errorf("decode ticket: %w", err)
	}
	return ticket, nil
}

var _ Store = (*RedisStore)(nil)
