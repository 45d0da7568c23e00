package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 6, cfg.SessionCodeLength)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "data/classsync.db")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("ACCESS_TTL", "5m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, "data/classsync.db", cfg.DatabaseURL)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	base := App{
		Env:               "dev",
		DatabaseDriver:    "memory",
		QueueBackend:      "memory",
		JWTSigningKey:     "short",
		AccessTTL:         time.Minute,
		RefreshTTL:        time.Hour,
		SessionCodeLength: 6,
	}
	require.NoError(t, base.Validate())

	prod := base
	prod.Env = "production"
	assert.ErrorContains(t, prod.Validate(), "at least 32 bytes")

	bad := base
	bad.DatabaseDriver = "mysql"
	bad.QueueBackend = "kafka"
	err := bad.Validate()
	assert.ErrorContains(t, err, "DB_DRIVER")
	assert.ErrorContains(t, err, "QUEUE_BACKEND")

	split := base
	split.QueueBackend = "redis"
	assert.ErrorContains(t, split.Validate(), "QUEUE_BACKEND=redis requires DB_DRIVER")
	split.DatabaseDriver = "sqlite3"
	assert.NoError(t, split.Validate())
}
