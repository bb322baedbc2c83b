package idle

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type State string

const (
	StateInactive       State = "inactive"
	StateActiveTracking State = "active-tracking"
	StateWarningShown   State = "warning-shown"
	StateExpired        State = "expired"
)

// ExpiredRoute is where an expired session is sent.
const ExpiredRoute = "/session-expired"

var protectedPrefixes = []string{"/dashboard", "/forms", "/api"}

// IsProtectedRoute reports whether path is one of the signed-in areas
// the idle timeout applies to.
func IsProtectedRoute(path string) bool {
	for _, prefix := range protectedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

type ActivityKind string

const (
	ActivityPointer  ActivityKind = "pointer"
	ActivityKeyboard ActivityKind = "keyboard"
	ActivityScroll   ActivityKind = "scroll"
	ActivityTouch    ActivityKind = "touch"
	ActivityClick    ActivityKind = "click"
)

var ErrUnknownActivity = errors.New("unknown activity kind")

func ParseActivity(s string) (ActivityKind, error) {
	switch k := ActivityKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ActivityPointer, ActivityKeyboard, ActivityScroll, ActivityTouch, ActivityClick:
		return k, nil
	}
	return "", ErrUnknownActivity
}

// Hooks are how the controller reaches the outside world. Any of them may
// be nil. They run outside the controller lock.
type Hooks struct {
	// ShowWarning raises the toast and the countdown dialog.
	ShowWarning func(secondsLeft int)
	// Countdown is called once a second while the warning is up.
	Countdown func(secondsLeft int)
	// DismissWarning closes the dialog after activity.
	DismissWarning func()
	// SignOut ends the session. It is called at most once per controller.
	SignOut func() error
	Navigate func(path string)
}

// Snapshot is a point-in-time view of a controller.
type Snapshot struct {
	State            State     `json:"state"`
	SecondsLeft      int       `json:"secondsLeft"`
	ExpiresInSeconds int       `json:"expiresInSeconds"`
	LastActivity     time.Time `json:"lastActivity"`
	Redirect         string    `json:"redirect,omitempty"`
}

// Controller runs the idle timeout for one session. All events are
// serialized by mu; timer callbacks carry the generation they were armed
// in and do nothing once a later reset or teardown has moved it on.
type Controller struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	config Config
	hooks  Hooks

	state        State
	lastActivity time.Time
	deadline     time.Time
	warningTimer clockwork.Timer
	expiryTimer  clockwork.Timer
	tickTimer    clockwork.Timer
	isLoggingOut bool
	generation   uint64
	redirect     string
	onExpired    func()
}

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

func NewController(config Config, hooks Hooks, opts ...Option) *Controller {
	if config.Warning <= 0 || config.Expiry <= config.Warning {
		slog.Warn("Invalid idle config, using defaults", "warning", config.Warning, "expiry", config.Expiry)
		config = DefaultConfig()
	}
	c := &Controller{
		clock:  clockwork.NewRealClock(),
		config: config,
		hooks:  hooks,
		state:  StateInactive,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) setOnExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = fn
}

func (c *Controller) Config() Config {
	return c.config
}

// Arm starts tracking when route is protected. A public route tears the
// controller down. Arming an already tracking controller changes nothing.
func (c *Controller) Arm(route string) {
	if !IsProtectedRoute(route) {
		c.Teardown()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInactive {
		return
	}
	c.armLocked()
}

// RouteChanged reports navigation. Leaving the protected area tears down;
// entering it arms.
func (c *Controller) RouteChanged(route string) {
	c.Arm(route)
}

// Activity records user input. While tracking or warning it restarts both
// timers from now and closes the warning. It reports whether the input was
// accepted.
func (c *Controller) Activity(kind ActivityKind) bool {
	if _, err := ParseActivity(string(kind)); err != nil {
		return false
	}

	c.mu.Lock()
	if c.state != StateActiveTracking && c.state != StateWarningShown {
		c.mu.Unlock()
		return false
	}
	wasWarning := c.state == StateWarningShown
	c.armLocked()
	dismiss := c.hooks.DismissWarning
	c.mu.Unlock()

	if wasWarning && dismiss != nil {
		dismiss()
	}
	return true
}

// Reset is Activity without a specific input kind.
func (c *Controller) Reset() bool {
	return c.Activity(ActivityPointer)
}

// Teardown clears every timer and returns to inactive. It is always safe
// to call.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimersLocked()
	c.generation++
	c.state = StateInactive
	c.isLoggingOut = false
	c.lastActivity = time.Time{}
	c.deadline = time.Time{}
	c.redirect = ""
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:        c.state,
		LastActivity: c.lastActivity,
		Redirect:     c.redirect,
	}
	if c.state == StateActiveTracking || c.state == StateWarningShown {
		left := c.secondsLeftLocked()
		snap.ExpiresInSeconds = left
		if c.state == StateWarningShown {
			snap.SecondsLeft = left
		}
	}
	return snap
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) armLocked() {
	c.stopTimersLocked()
	c.generation++
	gen := c.generation

	c.state = StateActiveTracking
	c.lastActivity = c.clock.Now()
	c.deadline = c.lastActivity.Add(c.config.Expiry)
	c.warningTimer = c.clock.AfterFunc(c.config.Warning, func() { c.onWarning(gen) })
	c.expiryTimer = c.clock.AfterFunc(c.config.Expiry, func() { c.onExpiry(gen) })
}

func (c *Controller) stopTimersLocked() {
	for _, t := range []clockwork.Timer{c.warningTimer, c.expiryTimer, c.tickTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.warningTimer, c.expiryTimer, c.tickTimer = nil, nil, nil
}

func (c *Controller) secondsLeftLocked() int {
	left := c.deadline.Sub(c.clock.Now())
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (c *Controller) onWarning(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateActiveTracking {
		c.mu.Unlock()
		return
	}
	c.state = StateWarningShown
	c.warningTimer = nil
	left := c.secondsLeftLocked()
	c.tickTimer = c.clock.AfterFunc(time.Second, func() { c.onTick(gen) })
	show := c.hooks.ShowWarning
	c.mu.Unlock()

	slog.Info("Idle warning shown", "seconds_left", left)
	if show != nil {
		show(left)
	}
}

func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateWarningShown {
		c.mu.Unlock()
		return
	}
	left := c.secondsLeftLocked()
	if left > 0 {
		c.tickTimer = c.clock.AfterFunc(time.Second, func() { c.onTick(gen) })
	} else {
		c.tickTimer = nil
	}
	countdown := c.hooks.Countdown
	c.mu.Unlock()

	if countdown != nil {
		countdown(left)
	}
	if left == 0 {
		c.onExpiry(gen)
	}
}

func (c *Controller) onExpiry(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.isLoggingOut {
		c.mu.Unlock()
		return
	}
	if c.state != StateActiveTracking && c.state != StateWarningShown {
		c.mu.Unlock()
		return
	}
	c.isLoggingOut = true
	c.stopTimersLocked()
	c.state = StateExpired
	c.redirect = ExpiredRoute
	signOut, navigate, expired := c.hooks.SignOut, c.hooks.Navigate, c.onExpired
	c.mu.Unlock()

	slog.Info("Idle session expired")
	if signOut != nil {
		if err := signOut(); err != nil {
			slog.Error("Idle sign-out failed", "err", err)
		}
	}
	if navigate != nil {
		navigate(ExpiredRoute)
	}
	if expired != nil {
		expired()
	}
}
