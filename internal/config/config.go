// Package config loads the Kestrel configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load builds the configuration. A .env file in the working directory is
// applied first when present; variables already set in the environment win.
// KESTREL_TIER selects the community or pro defaults, and the remaining
// KESTREL_* variables override individual fields.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	switch tier := strings.ToLower(getEnv("KESTREL_TIER", string(domain.TierCommunity))); tier {
	case string(domain.TierCommunity):
	case string(domain.TierPro):
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("KESTREL_TIER must be community or pro, got %q", tier)
	}

	// Server
	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvInt("KESTREL_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("KESTREL_WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	// Repository
	cfg.Repository.Driver = getEnv("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresURL = getEnv("KESTREL_POSTGRES_URL", cfg.Repository.PostgresURL)
	cfg.Repository.PostgresHost = getEnv("KESTREL_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("KESTREL_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("KESTREL_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("KESTREL_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("KESTREL_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("KESTREL_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	// Cache
	cfg.Cache.Type = getEnv("KESTREL_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("KESTREL_REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.EntryTTL = getEnvDuration("KESTREL_CACHE_TTL", cfg.Cache.EntryTTL)

	// Event bus
	cfg.EventBus.Type = getEnv("KESTREL_EVENT_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.KafkaBrokers = getEnv("KESTREL_KAFKA_BROKERS", cfg.EventBus.KafkaBrokers)
	cfg.EventBus.KafkaTopic = getEnv("KESTREL_KAFKA_TOPIC", cfg.EventBus.KafkaTopic)

	// Security
	cfg.Security.EncryptionKey = os.Getenv("KESTREL_ENCRYPTION_KEY")
	cfg.Security.RequireEncryption = getEnvBool("KESTREL_REQUIRE_ENCRYPTION", cfg.Security.RequireEncryption)
	cfg.Security.TokenSalt = getEnv("KESTREL_TOKEN_SALT", cfg.Security.TokenSalt)
	cfg.Security.AdminToken = os.Getenv("KESTREL_ADMIN_TOKEN")

	// Models and stream
	cfg.Models.Dir = getEnv("KESTREL_MODELS_DIR", cfg.Models.Dir)
	if names := getEnv("KESTREL_MODELS", ""); names != "" {
		cfg.Models.Names = splitList(names)
	}
	cfg.Stream.KeepAlive = getEnvDuration("KESTREL_STREAM_KEEPALIVE", cfg.Stream.KeepAlive)
	cfg.Stream.SubscriberBuffer = getEnvInt("KESTREL_STREAM_BUFFER", cfg.Stream.SubscriberBuffer)

	// Observability
	cfg.Logging.Level = getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("KESTREL_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = getEnvBool("KESTREL_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("KESTREL_OTLP_ENDPOINT", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a configuration for values the services cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be within 1-65535, got %d", cfg.Server.Port))
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", cfg.Repository.Driver))
	}

	switch cfg.Cache.Type {
	case "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("KESTREL_REDIS_ADDR is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type %q", cfg.Cache.Type))
	}

	switch cfg.EventBus.Type {
	case "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			errs = append(errs, errors.New("KESTREL_NATS_URL is required for the nats event bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type))
	}
	if cfg.EventBus.KafkaBrokers != "" && cfg.EventBus.KafkaTopic == "" {
		errs = append(errs, errors.New("KESTREL_KAFKA_TOPIC is required when Kafka brokers are set"))
	}

	if cfg.Security.RequireEncryption && cfg.Security.EncryptionKey == "" {
		errs = append(errs, errors.New("KESTREL_ENCRYPTION_KEY is required when encryption is required"))
	}

	if len(cfg.Models.Names) == 0 {
		errs = append(errs, errors.New("at least one model name is required"))
	}
	if cfg.Stream.KeepAlive <= 0 {
		errs = append(errs, errors.New("stream keep-alive must be positive"))
	}
	if cfg.Stream.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("stream subscriber buffer must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
