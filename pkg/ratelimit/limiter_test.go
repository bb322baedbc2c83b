package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
)

type steppedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *steppedClock {
	return &steppedClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func TestRateLimiter_Allow(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(5, 1, 0, WithNow(clock.Now))

	for i := 0; i < 5; i++ {
		ok, _ := rl.Allow("10.0.0.1")
		assert.True(t, ok, "request %d is within the burst", i+1)
	}

	ok, wait := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "keys have separate buckets")

	clock.Advance(2 * time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.False(t, ok)
}

func TestRateLimiter_DeniedRequestsDoNotConsume(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(1, 1, 0, WithNow(clock.Now))

	ok, _ := rl.Allow("ip")
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, _ = rl.Allow("ip")
		assert.False(t, ok)
	}

	clock.Advance(time.Second)
	ok, _ = rl.Allow("ip")
	assert.True(t, ok)
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, 0.01, 0, WithNow(newClock().Now))
	rl.Allow("ip")
	ok, _ := rl.Allow("ip")
	require.False(t, ok)

	rl.Reset("ip")
	ok, _ = rl.Allow("ip")
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := newClock()
	rl := NewRateLimiter(5, 1, time.Hour, WithNow(clock.Now))
	defer rl.Close()

	rl.Allow("a")
	clock.Advance(30 * time.Minute)
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 1, rl.Len())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 0, rl.Len())

	rl.Close()
}

func TestMiddleware(t *testing.T) {
	clock := newClock()
	m := NewMiddleware(Config{Burst: 2, PerMinute: 6}, WithNow(clock.Now))
	defer m.Close()

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, call("192.0.2.1:5000").Code)
	assert.Equal(t, http.StatusOK, call("192.0.2.1:5001").Code)

	rr := call("192.0.2.1:5002")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "10", rr.Header().Get("Retry-After"))

	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, apperrors.ErrCodeRateLimitExceeded, body.Code)
	assert.Equal(t, "10", body.Details["retry_after"])

	assert.Equal(t, http.StatusOK, call("192.0.2.2:5000").Code)

	clock.Advance(10 * time.Second)
	assert.Equal(t, http.StatusOK, call("192.0.2.1:5003").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.1:80", want: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 203.0.113.8 "}, remote: "10.0.0.1:80", want: "203.0.113.8"},
		{name: "peer", remote: "198.51.100.4:4431", want: "198.51.100.4"},
		{name: "ipv6 peer", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "no port", remote: "198.51.100.4", want: "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
