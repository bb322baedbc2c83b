package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/idle"
	"github.com/tendant/portal-auth/pkg/session"
)

type countingRecorder struct {
	n atomic.Int32
}

func (c *countingRecorder) RecordIdleExpiration() { c.n.Add(1) }

type fixture struct {
	router    http.Handler
	registry  *idle.Registry
	clock     clockwork.FakeClock
	revoker   *session.InMemoryRevoker
	publisher *events.MemoryPublisher
	recorder  *countingRecorder
	identity  session.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     clockwork.NewFakeClock(),
		revoker:   session.NewInMemoryRevoker(),
		publisher: &events.MemoryPublisher{},
		recorder:  &countingRecorder{},
		identity: session.Identity{
			UserID:    uuid.New(),
			SessionID: "jti-" + uuid.NewString(),
			ExpiresAt: time.Now().Add(8 * time.Hour),
		},
	}
	f.registry = idle.NewRegistry(NewControllerFactory(idle.ResolveConfig(5, 30), f.revoker, f.publisher, f.recorder, idle.WithClock(f.clock)))
	t.Cleanup(func() { f.registry.End(f.identity.SessionID) })

	h := NewHandle(f.registry)
	r := chi.NewRouter()
	r.Route("/session", h.Routes)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, signedIn bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if signedIn {
		req = req.WithContext(session.WithIdentity(req.Context(), f.identity))
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) StatusResponse {
	t.Helper()
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestIdleEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/session/idle", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	status := decodeStatus(t, rr)
	assert.Equal(t, idle.StateInactive, status.State)
	assert.Equal(t, 300, status.Config.WarningSeconds)
	assert.Equal(t, 1800, status.Config.ExpirySeconds)

	rr = f.do(t, http.MethodPost, "/session/activity", `{"kind":"click"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	status = decodeStatus(t, rr)
	require.NotNil(t, status.Accepted)
	assert.False(t, *status.Accepted, "activity before arming is ignored")

	rr = f.do(t, http.MethodPost, "/session/route", `{"path":"/dashboard"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	status = decodeStatus(t, rr)
	assert.Equal(t, idle.StateActiveTracking, status.State)
	assert.Equal(t, 1800, status.ExpiresInSeconds)

	rr = f.do(t, http.MethodPost, "/session/activity", `{"kind":"keyboard"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, *decodeStatus(t, rr).Accepted)

	rr = f.do(t, http.MethodPost, "/session/activity", `{"kind":"resize"}`, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/session/route", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodDelete, "/session/idle", "", true)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 0, f.registry.Len())
}

func TestIdleEndpoints_RequireIdentity(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/session/idle", ""},
		{http.MethodPost, "/session/activity", `{"kind":"click"}`},
		{http.MethodPost, "/session/route", `{"path":"/dashboard"}`},
		{http.MethodDelete, "/session/idle", ""},
	} {
		rr := f.do(t, tc.method, tc.path, tc.body, false)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.method+" "+tc.path)
	}
}

func TestIdleExpiryRevokesSession(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/session/route", `{"path":"/forms/organizer"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	c, ok := f.registry.Lookup(f.identity.SessionID)
	require.True(t, ok)

	f.clock.Advance(30 * time.Minute)

	require.Eventually(t, func() bool {
		revoked, err := f.revoker.IsRevoked(context.Background(), f.identity.SessionID)
		return err == nil && revoked
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.recorder.n.Load())

	types := f.publisher.Types()
	require.Len(t, types, 1)
	assert.Equal(t, events.SessionExpired, types[0])
	assert.Equal(t, f.identity.UserID.String(), f.publisher.Events()[0].UserID)

	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, time.Second, 5*time.Millisecond)
	snap := c.Snapshot()
	assert.Equal(t, idle.StateExpired, snap.State)
	assert.Equal(t, idle.ExpiredRoute, snap.Redirect)
}

func TestExpiredControllersAreForgotten(t *testing.T) {
	clock := clockwork.NewFakeClock()
	revoker := session.NewInMemoryRevoker()
	recorder := &countingRecorder{}
	registry := idle.NewRegistry(NewControllerFactory(idle.ResolveConfig(5, 30), revoker, nil, recorder, idle.WithClock(clock)))

	for i := 0; i < 100; i++ {
		registry.Get(idle.Owner{
			SessionID: "jti-" + uuid.NewString(),
			UserID:    uuid.NewString(),
			ExpiresAt: time.Now().Add(8 * time.Hour),
		}).Arm("/dashboard")
	}
	require.Equal(t, 100, registry.Len())

	clock.Advance(30 * time.Minute)

	require.Eventually(t, func() bool { return recorder.n.Load() == 100 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return registry.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAbandonedSessionsAreSwept(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := idle.NewRegistry(
		NewControllerFactory(idle.ResolveConfig(5, 30), session.NewInMemoryRevoker(), nil, nil, idle.WithClock(clock)),
		idle.WithRegistryClock(clock),
	)

	expiresAt := clock.Now().Add(10 * time.Minute)
	for i := 0; i < 10; i++ {
		registry.Get(idle.Owner{SessionID: "jti-" + uuid.NewString(), ExpiresAt: expiresAt})
	}
	live := registry.Get(idle.Owner{SessionID: "jti-live", ExpiresAt: clock.Now().Add(8 * time.Hour)})
	require.Equal(t, 11, registry.Len())

	assert.Equal(t, 0, registry.Sweep())
	clock.Advance(11 * time.Minute)
	assert.Equal(t, 10, registry.Sweep())

	assert.Equal(t, 1, registry.Len())
	got, ok := registry.Lookup("jti-live")
	require.True(t, ok)
	assert.Same(t, live, got)
}
