package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Per-investigation defaults, snapshotted into each investigation.
	Investigation InvestigationConfig `json:"investigation"`

	// Routing policy
	Routing RoutingConfig `json:"routing"`

	// Scoring policy
	Scoring ScoringConfig `json:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Cache      CacheConfig      `json:"cache"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringConfig holds the risk scoring engine's tunables. The numeric
// policy constants (volume tiers, clamps, sample minimums) are part of
// the scoring contract and live as constants in internal/scoring; only
// the deployment-level knobs are configurable here.
type ScoringConfig struct {
	// BaseThreshold is the fraud-flag cutoff before adaptive scaling.
	BaseThreshold float64 `json:"baseThreshold"`

	// Seed fixes the ML stage's randomness for deterministic scoring.
	Seed int64 `json:"seed"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels + in-memory checkpoints
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Investigation: InvestigationConfig{
			LookbackDays:  90,
			ToolTargetMin: 10,
			ToolTargetMax: 15,
			MaxTools:      25,
			Parallel:      false,
			Adaptive:      false,
			MaxLoops:      6,
			MaxDomains:    4,
		},
		Routing: DefaultRoutingConfig(),
		Scoring: ScoringConfig{
			BaseThreshold: 0.20,
			Seed:          42,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Checkpoint: CheckpointConfig{
			Type:           "memory",
			Namespace:      "kestrel",
			TTL:            24 * time.Hour,
			PipelineMax:    500,
			FallbackMemory: true,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
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

// ProConfig returns a configuration for Pro tier: PostgreSQL repository,
// Redis checkpoints, NATS monitoring stream.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Investigation.Parallel = true
	cfg.Investigation.Adaptive = true
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Checkpoint = CheckpointConfig{
		Type:        "redis",
		Namespace:   "kestrel",
		RedisAddr:   "localhost:6379",
		TTL:         24 * time.Hour,
		PipelineMax: 500,
		// Availability over durability: the store falls back to memory when
		// Redis is unreachable at startup. The fallback logs at error level
		// so a degraded production node is never silent.
		FallbackMemory: true,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		LocalMaxSize:   10000,
		LocalTTL:       5 * time.Minute,
		EnableTwoPhase: true,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
