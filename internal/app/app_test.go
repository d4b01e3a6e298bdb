package app

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockAbandoner struct {
	calls     int
	olderThan time.Duration
	n         int
	err       error
}

func (m *mockAbandoner) AbandonStale(_ context.Context, olderThan time.Duration) (int, error) {
	m.calls++
	m.olderThan = olderThan
	return m.n, m.err
}

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/bazaar",
		ShareKey:    "secret",
		Sweeper:     SweeperConfig{Schedule: "@every 10m", AbandonAfter: 72 * time.Hour},
		RateLimit:   RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"Valid", func(*Config) {}, true},
		{"NoDatabase", func(c *Config) { c.DatabaseURL = "" }, false},
		{"NoShareKey", func(c *Config) { c.ShareKey = "" }, false},
		{"ZeroRate", func(c *Config) { c.RateLimit.Max = 0 }, false},
		{"ZeroWindow", func(c *Config) { c.RateLimit.Window = 0 }, false},
		{"ZeroAbandon", func(c *Config) { c.Sweeper.AbandonAfter = 0 }, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PORT", "9000")

	c := Config{Addr: "0.0.0.0:8080"}
	c.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", c.DatabaseURL)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, "0.0.0.0:9000", c.Addr)

	explicit := Config{Addr: "127.0.0.1:1", DatabaseURL: "postgres://explicit/db"}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
	assert.Equal(t, "127.0.0.1:1", explicit.Addr)
}

func TestSweeper(t *testing.T) {
	t.Run("InvalidSchedule", func(t *testing.T) {
		_, err := NewSweeper(zap.NewNop(), &mockAbandoner{}, SweeperConfig{Schedule: "every tuesday"})
		require.Error(t, err)
	})
	t.Run("Sweep", func(t *testing.T) {
		m := &mockAbandoner{n: 3}
		s, err := NewSweeper(zap.NewNop(), m, SweeperConfig{Schedule: "@every 1h", AbandonAfter: 48 * time.Hour})
		require.NoError(t, err)

		var extra int
		s.Also(func() { extra++ })
		s.sweep(context.Background())

		assert.Equal(t, 1, m.calls)
		assert.Equal(t, 48*time.Hour, m.olderThan)
		assert.Equal(t, 1, extra)
	})
	t.Run("ErrorLogged", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		m := &mockAbandoner{err: errors.New("db down")}
		s, err := NewSweeper(zap.New(core), m, SweeperConfig{Schedule: "*/5 * * * *", AbandonAfter: time.Hour})
		require.NoError(t, err)

		var extra int
		s.Also(func() { extra++ })
		s.sweep(context.Background())

		require.Equal(t, 1, logs.FilterMessage("Stale cart sweep failed").Len())
		assert.Equal(t, 1, extra, "housekeeping runs even when the cart sweep fails")
	})
	t.Run("StartStop", func(t *testing.T) {
		s, err := NewSweeper(zap.NewNop(), &mockAbandoner{}, SweeperConfig{Schedule: "@every 1h", AbandonAfter: time.Hour})
		require.NoError(t, err)
		s.Start()
		s.Stop()
	})
}
