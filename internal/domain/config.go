package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring pipeline
	Security SecurityConfig `json:"-"`
	Models   ModelsConfig   `json:"models"`
	Stream   StreamConfig   `json:"stream"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds; 0 disables, needed for streams
}

// SecurityConfig holds the process-wide secrets.
type SecurityConfig struct {
	// EncryptionKey enables the field cipher. Empty means plaintext passthrough.
	EncryptionKey string

	// RequireEncryption refuses to start without an EncryptionKey.
	RequireEncryption bool

	// TokenSalt keys identifier tokenization. It must stay constant for the
	// lifetime of a store or history matching breaks.
	TokenSalt string

	// AdminToken gates destructive operations. Empty leaves them open.
	AdminToken string
}

// ModelsConfig locates the pre-trained classifier files.
type ModelsConfig struct {
	Dir   string   `json:"dir"`
	Names []string `json:"names"`
}

// StreamConfig tunes event fan-out.
type StreamConfig struct {
	KeepAlive        time.Duration `json:"keepAlive"`
	SubscriberBuffer int           `json:"subscriberBuffer"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC collector, host:port
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultSalt is the token salt used when none is configured.
const DefaultSalt = "default_salt_should_be_changed"

// DefaultModelNames lists the ensemble members in vote order.
var DefaultModelNames = []string{
	"logistic_regression",
	"decision_tree",
	"random_forest",
	"support_vector_machine",
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 0,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			EntryTTL:     30 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			KafkaTopic:        "kestrel.scoring-events",
		},
		Security: SecurityConfig{
			TokenSalt: DefaultSalt,
		},
		Models: ModelsConfig{
			Dir:   "./models",
			Names: DefaultModelNames,
		},
		Stream: StreamConfig{
			KeepAlive:        15 * time.Second,
			SubscriberBuffer: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		EntryTTL:       30 * time.Minute,
	}
	cfg.EventBus.Type = "nats"
	cfg.EventBus.NATSUrl = "nats://localhost:4222"
	cfg.EventBus.NATSMaxReconnects = 10
	cfg.EventBus.NATSReconnectWait = 5
	cfg.Security.RequireEncryption = true
	cfg.Tracing.Enabled = true
	return cfg
}
