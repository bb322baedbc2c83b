package config

import (
	"time"

	"github.com/tendant/portal-auth/pkg/idle"
)

// SessionConfig holds the session token and cookie settings.
type SessionConfig struct {
	Secret       string `env:"SESSION_SECRET" env-required:"true"`
	TTL          string `env:"SESSION_TTL" env-default:"PT8H"`
	Issuer       string `env:"SESSION_ISSUER" env-default:"portal-auth"`
	CookieSecure bool   `env:"COOKIE_SECURE" env-default:"true"`
}

func (s SessionConfig) ParseTTL() time.Duration {
	return ParseDurationOrDefault(s.TTL, 8*time.Hour)
}

// IdleConfig is read in minutes. Missing or invalid values fall back to
// the idle package defaults.
type IdleConfig struct {
	WarningMinutes float64 `env:"IDLE_WARNING_MINUTES"`
	ExpiryMinutes  float64 `env:"IDLE_EXPIRY_MINUTES"`
}

func (c IdleConfig) Resolve() idle.Config {
	return idle.ResolveConfig(c.WarningMinutes, c.ExpiryMinutes)
}

// OTPConfig holds the lifetimes of login codes and the tickets minted from
// them.
type OTPConfig struct {
	CodeTTL     string `env:"OTP_CODE_TTL" env-default:"PT10M"`
	TicketTTL   string `env:"OTP_TICKET_TTL" env-default:"PT5M"`
	MaxAttempts int    `env:"OTP_MAX_ATTEMPTS" env-default:"5"`
}

func (c OTPConfig) ParseCodeTTL() time.Duration {
	return ParseDurationOrDefault(c.CodeTTL, 10*time.Minute)
}

func (c OTPConfig) ParseTicketTTL() time.Duration {
	return ParseDurationOrDefault(c.TicketTTL, 5*time.Minute)
}
