package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KESTREL_TIER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, domain.DefaultSalt, cfg.Security.TokenSalt)
	assert.Equal(t, domain.DefaultModelNames, cfg.Models.Names)
	assert.Equal(t, 15*time.Second, cfg.Stream.KeepAlive)
	assert.False(t, cfg.Security.RequireEncryption)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KESTREL_PORT", "9090")
	t.Setenv("KESTREL_SQLITE_PATH", "/tmp/kestrel-config.db")
	t.Setenv("KESTREL_TOKEN_SALT", "pepper")
	t.Setenv("KESTREL_ADMIN_TOKEN", "s3cret")
	t.Setenv("KESTREL_MODELS_DIR", "/opt/models")
	t.Setenv("KESTREL_MODELS", "random_forest, decision_tree")
	t.Setenv("KESTREL_STREAM_KEEPALIVE", "5s")
	t.Setenv("KESTREL_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KESTREL_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/kestrel-config.db", cfg.Repository.SQLitePath)
	assert.Equal(t, "pepper", cfg.Security.TokenSalt)
	assert.Equal(t, "s3cret", cfg.Security.AdminToken)
	assert.Equal(t, "/opt/models", cfg.Models.Dir)
	assert.Equal(t, []string{"random_forest", "decision_tree"}, cfg.Models.Names)
	assert.Equal(t, 5*time.Second, cfg.Stream.KeepAlive)
	assert.Equal(t, "k1:9092,k2:9092", cfg.EventBus.KafkaBrokers)
	assert.Equal(t, "kestrel.scoring-events", cfg.EventBus.KafkaTopic)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ProRequiresEncryptionKey(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")
	t.Setenv("KESTREL_ENCRYPTION_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KESTREL_ENCRYPTION_KEY is required")
}

func TestLoad_Pro(t *testing.T) {
	t.Setenv("KESTREL_TIER", "PRO")
	t.Setenv("KESTREL_ENCRYPTION_KEY", "a long enough passphrase")
	t.Setenv("KESTREL_REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Security.RequireEncryption)
}

func TestLoad_InvalidTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "enterprise")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, Validate(domain.DefaultConfig()))
	})

	t.Run("CollectsEveryProblem", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Server.Port = 0
		cfg.Repository.Driver = "mysql"
		cfg.Cache.Type = "memcached"
		cfg.EventBus.KafkaBrokers = "k:9092"
		cfg.EventBus.KafkaTopic = ""
		cfg.Models.Names = nil

		err := Validate(cfg)
		require.Error(t, err)
		for _, want := range []string{"port", "mysql", "memcached", "KESTREL_KAFKA_TOPIC", "model name"} {
			assert.Contains(t, err.Error(), want)
		}
	})

	t.Run("NATSNeedsURL", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.EventBus.Type = "nats"
		assert.ErrorContains(t, Validate(cfg), "KESTREL_NATS_URL")
	})
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("KESTREL_TEST_INT", "not-a-number")
	t.Setenv("KESTREL_TEST_BOOL", "yes-please")
	t.Setenv("KESTREL_TEST_DURATION", "90s")

	assert.Equal(t, 7, getEnvInt("KESTREL_TEST_INT", 7))
	assert.True(t, getEnvBool("KESTREL_TEST_BOOL", true))
	assert.Equal(t, 90*time.Second, getEnvDuration("KESTREL_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b"}, splitList(" a,,b ,"))
}
