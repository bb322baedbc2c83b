// Package idle signs users out of protected pages after a period without
// activity, with a warning and countdown before the forced sign-out.
package idle

import (
	"log/slog"
	"math"
	"time"
)

const (
	DefaultWarningMinutes = 5
	DefaultExpiryMinutes  = 30
)

// Config holds how long a session may sit idle before the warning and
// before expiry. Expiry is always later than Warning.
type Config struct {
	Warning time.Duration
	Expiry  time.Duration
}

// Countdown is how long the warning stays up before expiry.
func (c Config) Countdown() time.Duration {
	return c.Expiry - c.Warning
}

func DefaultConfig() Config {
	return Config{
		Warning: DefaultWarningMinutes * time.Minute,
		Expiry:  DefaultExpiryMinutes * time.Minute,
	}
}

// ResolveConfig turns configured minutes into a Config. A value that is
// missing, not finite or not positive takes its default, and a pair where
// expiry does not come after the warning falls back to both defaults.
func ResolveConfig(warningMinutes, expiryMinutes float64) Config {
	warning, ok := minutesOrDefault(warningMinutes, DefaultWarningMinutes)
	if !ok {
		slog.Warn("Invalid idle warning minutes, using default", "value", warningMinutes, "default", DefaultWarningMinutes)
	}
	expiry, ok := minutesOrDefault(expiryMinutes, DefaultExpiryMinutes)
	if !ok {
		slog.Warn("Invalid idle expiry minutes, using default", "value", expiryMinutes, "default", DefaultExpiryMinutes)
	}

	if expiry <= warning {
		slog.Warn("Idle expiry must be later than the warning, using defaults", "warning", warning, "expiry", expiry)
		return DefaultConfig()
	}
	return Config{Warning: warning, Expiry: expiry}
}

// minutesOrDefault reports false when the default had to be used for a
// value that was set. Zero counts as unset.
func minutesOrDefault(minutes float64, def float64) (time.Duration, bool) {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return time.Duration(def * float64(time.Minute)), minutes == 0
	}
	return time.Duration(minutes * float64(time.Minute)), true
}
