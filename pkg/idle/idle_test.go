package idle

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func TestResolveConfig(t *testing.T) {
	defaults := Config{Warning: 5 * time.Minute, Expiry: 30 * time.Minute}

	tests := []struct {
		name    string
		warning float64
		expiry  float64
		want    Config
	}{
		{name: "absent", want: defaults},
		{name: "configured", warning: 2, expiry: 10, want: Config{Warning: 2 * time.Minute, Expiry: 10 * time.Minute}},
		{name: "fractional minutes", warning: 0.5, expiry: 1.5, want: Config{Warning: 30 * time.Second, Expiry: 90 * time.Second}},
		{name: "warning not finite", warning: math.NaN(), expiry: 20, want: Config{Warning: 5 * time.Minute, Expiry: 20 * time.Minute}},
		{name: "expiry infinite", warning: 1, expiry: math.Inf(1), want: Config{Warning: time.Minute, Expiry: 30 * time.Minute}},
		{name: "negative", warning: -1, expiry: -1, want: defaults},
		{name: "expiry before warning", warning: 10, expiry: 5, want: defaults},
		{name: "expiry equal to warning", warning: 5, expiry: 5, want: defaults},
		{name: "warning past default expiry", warning: 45, want: defaults},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveConfig(tt.warning, tt.expiry)
			assert.Equal(t, tt.want, got)
			assert.Greater(t, got.Expiry, got.Warning)
		})
	}
}

func TestIsProtectedRoute(t *testing.T) {
	for path, want := range map[string]bool{
		"/dashboard":          true,
		"/dashboard/files":    true,
		"/forms/w9":           true,
		"/api":                true,
		"/api/documents":      true,
		"/":                   false,
		"/login":              false,
		"/register":           false,
		"/services/cashflow":  false,
		"/dashboards":         false,
		"/session-expired":    false,
		"/apidocs/dashboard":  false,
		"/marketing/api-tips": false,
	} {
		assert.Equal(t, want, IsProtectedRoute(path), path)
	}
}

func TestParseActivity(t *testing.T) {
	for _, s := range []string{"pointer", "keyboard", "scroll", "touch", "Click"} {
		_, err := ParseActivity(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseActivity("resize")
	assert.ErrorIs(t, err, ErrUnknownActivity)
}

type hookRecorder struct {
	mu        sync.Mutex
	warnings  []int
	ticks     []int
	dismissed int
	signOuts  int
	navigated []string
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		ShowWarning: func(secondsLeft int) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.warnings = append(h.warnings, secondsLeft)
		},
		Countdown: func(secondsLeft int) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.ticks = append(h.ticks, secondsLeft)
		},
		DismissWarning: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.dismissed++
		},
		SignOut: func() error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.signOuts++
			return nil
		},
		Navigate: func(path string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.navigated = append(h.navigated, path)
		},
	}
}

func (h *hookRecorder) signOutCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signOuts
}

func (h *hookRecorder) warningsShown() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.warnings...)
}

func newTestController(t *testing.T) (*Controller, clockwork.FakeClock, *hookRecorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := &hookRecorder{}
	c := NewController(ResolveConfig(5, 30), rec.hooks(), WithClock(clock))
	t.Cleanup(c.Teardown)
	return c, clock, rec
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick, "want state %s, have %s", want, c.State())
}

func TestController_WarningThenExpiry(t *testing.T) {
	c, clock, rec := newTestController(t)

	c.Arm("/dashboard")
	assert.Equal(t, StateActiveTracking, c.State())

	clock.Advance(5*time.Minute - time.Second)
	assert.Equal(t, StateActiveTracking, c.State())

	clock.Advance(time.Second)
	waitForState(t, c, StateWarningShown)
	require.Eventually(t, func() bool { return len(rec.warningsShown()) == 1 }, waitFor, tick)
	assert.Equal(t, []int{25 * 60}, rec.warningsShown(), "countdown covers expiry minus warning")

	snap := c.Snapshot()
	assert.Equal(t, 25*60, snap.SecondsLeft)

	clock.Advance(25 * time.Minute)
	waitForState(t, c, StateExpired)
	require.Eventually(t, func() bool { return rec.signOutCount() == 1 }, waitFor, tick)

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return rec.signOutCount() > 1 }, 50*time.Millisecond, tick)

	rec.mu.Lock()
	assert.Equal(t, []string{ExpiredRoute}, rec.navigated)
	rec.mu.Unlock()
	assert.Equal(t, ExpiredRoute, c.Snapshot().Redirect)
}

func TestController_ActivityResetsBothTimers(t *testing.T) {
	c, clock, rec := newTestController(t)
	c.Arm("/forms/engagement-letter")

	clock.Advance(5 * time.Minute)
	waitForState(t, c, StateWarningShown)

	assert.True(t, c.Activity(ActivityKeyboard))
	assert.Equal(t, StateActiveTracking, c.State())
	rec.mu.Lock()
	assert.Equal(t, 1, rec.dismissed)
	rec.mu.Unlock()

	// 30 minutes after the session started, 25 after the reset
	clock.Advance(25 * time.Minute)
	waitForState(t, c, StateWarningShown)
	assert.Never(t, func() bool { return rec.signOutCount() > 0 }, 50*time.Millisecond, tick)

	clock.Advance(5 * time.Minute)
	waitForState(t, c, StateExpired)
	require.Eventually(t, func() bool { return rec.signOutCount() == 1 }, waitFor, tick)
}

func TestController_ActivityWhileTracking(t *testing.T) {
	c, clock, rec := newTestController(t)
	c.Arm("/api")

	for i := 0; i < 10; i++ {
		clock.Advance(4 * time.Minute)
		assert.True(t, c.Activity(ActivityScroll))
	}
	assert.Equal(t, StateActiveTracking, c.State())
	assert.Empty(t, rec.warningsShown())
	assert.Equal(t, 0, rec.signOutCount())
}

func TestController_IgnoredActivity(t *testing.T) {
	c, _, _ := newTestController(t)

	assert.False(t, c.Activity(ActivityClick), "inactive controller ignores input")

	c.Arm("/dashboard")
	assert.False(t, c.Activity(ActivityKind("resize")))
	assert.True(t, c.Activity(ActivityTouch))
}

func TestController_PublicRouteTearsDown(t *testing.T) {
	c, clock, rec := newTestController(t)

	c.Arm("/login")
	assert.Equal(t, StateInactive, c.State())

	c.Arm("/dashboard")
	require.Equal(t, StateActiveTracking, c.State())

	c.RouteChanged("/services/tax-planning")
	assert.Equal(t, StateInactive, c.State())

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return rec.signOutCount() > 0 || len(rec.warningsShown()) > 0 }, 50*time.Millisecond, tick)
	assert.Equal(t, StateInactive, c.State())
}

func TestController_ArmTwiceKeepsTimers(t *testing.T) {
	c, clock, _ := newTestController(t)
	c.Arm("/dashboard")
	clock.Advance(4 * time.Minute)

	c.Arm("/dashboard/files")
	clock.Advance(time.Minute)
	waitForState(t, c, StateWarningShown)
}

func TestController_StaleCallbacksAreIgnored(t *testing.T) {
	c, _, rec := newTestController(t)
	c.Arm("/dashboard")

	c.mu.Lock()
	stale := c.generation
	c.mu.Unlock()

	c.Activity(ActivityPointer)
	c.onWarning(stale)
	c.onExpiry(stale)
	c.onTick(stale)

	assert.Equal(t, StateActiveTracking, c.State())
	assert.Equal(t, 0, rec.signOutCount())
	assert.Empty(t, rec.warningsShown())
}

func TestController_SignOutOnce(t *testing.T) {
	c, _, rec := newTestController(t)
	c.Arm("/dashboard")

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.onExpiry(gen)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateExpired, c.State())
	assert.Equal(t, 1, rec.signOutCount())
	assert.False(t, c.Activity(ActivityClick), "expired is terminal")
}

func TestController_TeardownIsIdempotent(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Teardown()
	c.Arm("/dashboard")
	c.Teardown()
	c.Teardown()
	assert.Equal(t, StateInactive, c.State())
	assert.Equal(t, Snapshot{State: StateInactive}, c.Snapshot())
}

func TestNewController_InvalidConfigUsesDefaults(t *testing.T) {
	c := NewController(Config{Warning: 10 * time.Minute, Expiry: time.Minute}, Hooks{})
	assert.Equal(t, DefaultConfig(), c.Config())
}

func TestRegistry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	created := 0
	r := NewRegistry(func(owner Owner) *Controller {
		created++
		return NewController(DefaultConfig(), Hooks{}, WithClock(clock))
	})

	a := r.Get(Owner{SessionID: "jti-a"})
	assert.Same(t, a, r.Get(Owner{SessionID: "jti-a"}))
	r.Get(Owner{SessionID: "jti-b"})
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, r.Len())

	a.Arm("/dashboard")
	r.End("jti-a")
	assert.Equal(t, StateInactive, a.State())
	_, ok := r.Lookup("jti-a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	r.End("missing")
	r.End("jti-b")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ExpiredControllerIsForgotten(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &hookRecorder{}
	r := NewRegistry(func(owner Owner) *Controller {
		return NewController(ResolveConfig(5, 30), rec.hooks(), WithClock(clock))
	}, WithRegistryClock(clock), WithSweepEvery(time.Minute))
	defer r.Close()

	c := r.Get(Owner{SessionID: "jti-a", ExpiresAt: clock.Now().Add(8 * time.Hour)})
	c.Arm("/dashboard")
	clock.Advance(30 * time.Minute)

	require.Eventually(t, func() bool { return r.Len() == 0 }, waitFor, tick)
	assert.Equal(t, 1, rec.signOutCount())
	assert.Equal(t, StateExpired, c.State())

	again := r.Get(Owner{SessionID: "jti-a"})
	assert.NotSame(t, c, again)
	assert.Equal(t, StateInactive, again.State())

	r.Close()
}
