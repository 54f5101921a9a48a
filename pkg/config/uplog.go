package config

import "time"

// Config holds runtime configuration for the uplog service.
type Config struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	NATSURL       string
	IPHashSalt    string

	// Broker retention bounds applied to every per-user stream.
	MaxMsgsPerSubject int64
	MessageTTL        time.Duration

	// Ingestion and consumption tuning.
	PublishAckTimeout time.Duration
	MaxInFlight       int
	BatchSize         int
	PullWait          time.Duration
	DeliverPolicy     string

	// Session metadata lifecycle.
	SessionTTL   time.Duration
	ReapInterval time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("UPLOG_ADDR", ":8000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://uplog:uplog@db:5432/uplog?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		NATSURL:            GetString("NATS_URL", "nats://127.0.0.1:4222"),
		IPHashSalt:         GetString("IP_HASH", ""),
		MaxMsgsPerSubject:  int64(GetInt("NATS_MAX_MSG_PER_SUBJECT", 100000)),
		MessageTTL:         time.Duration(GetInt("NATS_MSG_TTL_IN_SECONDS", 604800)) * time.Second,
		PublishAckTimeout:  time.Duration(GetInt("PUBLISH_ACK_TIMEOUT_SECONDS", 5)) * time.Second,
		MaxInFlight:        GetInt("PUBLISH_MAX_IN_FLIGHT", 32),
		BatchSize:          GetInt("CONSUME_BATCH_SIZE", 10),
		PullWait:           time.Duration(GetInt("CONSUME_PULL_WAIT_SECONDS", 5)) * time.Second,
		DeliverPolicy:      GetString("CONSUME_DELIVER_POLICY", "all"),
		SessionTTL:         time.Duration(GetInt("SESSION_TTL_HOURS", 168)) * time.Hour,
		ReapInterval:       time.Duration(GetInt("SESSION_REAP_SECONDS", 3600)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
