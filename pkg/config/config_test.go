package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/portal-auth/pkg/idle"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PORTAL_TEST_STRING", "value")
	t.Setenv("PORTAL_TEST_INT", "42")
	t.Setenv("PORTAL_TEST_BAD_INT", "forty-two")
	t.Setenv("PORTAL_TEST_BOOL", "Yes")
	t.Setenv("PORTAL_TEST_FLOAT", "2.5")
	t.Setenv("PORTAL_TEST_SLICE", " a, ,b ,c")

	assert.Equal(t, "value", GetEnvOrDefault("PORTAL_TEST_STRING", "default"))
	assert.Equal(t, "default", GetEnvOrDefault("PORTAL_TEST_UNSET", "default"))
	assert.Equal(t, 42, GetEnvInt("PORTAL_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("PORTAL_TEST_BAD_INT", 1))
	assert.True(t, GetEnvBool("PORTAL_TEST_BOOL", false))
	assert.True(t, GetEnvBool("PORTAL_TEST_UNSET", true))
	assert.Equal(t, 2.5, GetEnvFloat("PORTAL_TEST_FLOAT", 0))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvSlice("PORTAL_TEST_SLICE", nil))
	assert.Equal(t, []string{"x"}, GetEnvSlice("PORTAL_TEST_UNSET", []string{"x"}))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "PT10M", want: 10 * time.Minute},
		{in: "PT8H", want: 8 * time.Hour},
		{in: "PT1H30M", want: 90 * time.Minute},
		{in: "5m", want: 5 * time.Minute},
		{in: "", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, time.Minute, ParseDurationOrDefault("soon", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOrDefault("", time.Minute))
}

func TestRateLimitConfig(t *testing.T) {
	t.Setenv("RATELIMIT_LOGIN_BURST", "3")
	t.Setenv("RATELIMIT_LOGIN_PER_MINUTE", "6")
	t.Setenv("RATELIMIT_BUCKET_TTL", "PT30M")

	cfg := NewRateLimitConfigFromEnv().ToMiddlewareConfig()
	assert.Equal(t, 3, cfg.Burst)
	assert.Equal(t, 6.0, cfg.PerMinute)
	assert.Equal(t, 30*time.Minute, cfg.BucketTTL)
}

func TestIdleConfig(t *testing.T) {
	assert.Equal(t, idle.DefaultConfig(), IdleConfig{}.Resolve())
	assert.Equal(t, idle.Config{Warning: 2 * time.Minute, Expiry: 15 * time.Minute},
		IdleConfig{WarningMinutes: 2, ExpiryMinutes: 15}.Resolve())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORTAL_DOTENV_VALUE=from-file\n"), 0o600))
	t.Setenv("PORTAL_DOTENV_VALUE", "")
	require.NoError(t, os.Unsetenv("PORTAL_DOTENV_VALUE"))

	LoadDotEnv(path)
	assert.Equal(t, "from-file", os.Getenv("PORTAL_DOTENV_VALUE"))

	LoadDotEnv(filepath.Join(dir, "missing.env"))
}

func TestDatabaseURL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, Database: "portal", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5433/portal?sslmode=disable", d.ToDatabaseURL())
	assert.Equal(t, uint16(5433), d.ToDbConfig().Port)
}
