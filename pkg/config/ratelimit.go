package config

import (
	"time"

	"github.com/tendant/portal-auth/pkg/ratelimit"
)

// RateLimitConfig contains the per-IP limits for the sign-in endpoints.
type RateLimitConfig struct {
	Enabled        bool    `env:"RATELIMIT_LOGIN_ENABLED" env-default:"true"`
	LoginBurst     int     `env:"RATELIMIT_LOGIN_BURST" env-default:"10"`
	LoginPerMinute float64 `env:"RATELIMIT_LOGIN_PER_MINUTE" env-default:"10"`
	BucketTTL      string  `env:"RATELIMIT_BUCKET_TTL" env-default:"PT1H"`
}

// NewRateLimitConfigFromEnv loads RateLimitConfig from the same variables
// cleanenv reads.
func NewRateLimitConfigFromEnv() RateLimitConfig {
	return RateLimitConfig{
		Enabled:        GetEnvBool("RATELIMIT_LOGIN_ENABLED", true),
		LoginBurst:     GetEnvInt("RATELIMIT_LOGIN_BURST", 10),
		LoginPerMinute: GetEnvFloat("RATELIMIT_LOGIN_PER_MINUTE", 10),
		BucketTTL:      GetEnvOrDefault("RATELIMIT_BUCKET_TTL", "PT1H"),
	}
}

func (c RateLimitConfig) ToMiddlewareConfig() ratelimit.Config {
	return ratelimit.Config{
		Burst:     c.LoginBurst,
		PerMinute: c.LoginPerMinute,
		BucketTTL: ParseDurationOrDefault(c.BucketTTL, time.Hour),
	}
}
