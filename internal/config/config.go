package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Intake    IntakeConfig
	LogLevel  string
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	// MigrationsPath is a golang-migrate source URL; empty uses db/migrations
	MigrationsPath string
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string

	DeadLetterExchange   string
	DeadLetterRoutingKey string
}

// SyncConfig holds the delivery settings injected into the emitter,
// the deliverer and the retry processor
type SyncConfig struct {
	Enabled             bool
	AIServiceBaseURL    string
	WebhookPath         string
	SigningSecret       string
	WebhookTimeout      time.Duration
	TokenTTL            time.Duration
	MaxRetryAttempts    int
	RetryBaseDelay      time.Duration
	MaxResponseBodySize int
	StalePendingAfter   time.Duration
}

type SchedulerConfig struct {
	RetryInterval time.Duration
	PurgeInterval time.Duration
	BatchLimit    int
	PurgeDays     int
}

type IntakeConfig struct {
	Queue         string
	PrefetchCount int
}

// Defaults for the delivery pipeline
const (
	DefaultWebhookPath         = "/webhooks/events"
	DefaultWebhookTimeout      = 30 * time.Second
	DefaultTokenTTL            = 5 * time.Minute
	DefaultMaxRetryAttempts    = 3
	DefaultRetryBaseDelay      = 30 * time.Second
	DefaultMaxResponseBodySize = 64 * 1024
	DefaultStalePendingAfter   = 5 * time.Minute
	DefaultRetryInterval       = 2 * time.Minute
	DefaultPurgeInterval       = 24 * time.Hour
	DefaultBatchLimit          = 50
	DefaultPurgeDays           = 30
	DefaultIntakePrefetch      = 10
)

// DefaultSyncConfig returns the delivery settings used when nothing is overridden
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:             true,
		WebhookPath:         DefaultWebhookPath,
		WebhookTimeout:      DefaultWebhookTimeout,
		TokenTTL:            DefaultTokenTTL,
		MaxRetryAttempts:    DefaultMaxRetryAttempts,
		RetryBaseDelay:      DefaultRetryBaseDelay,
		MaxResponseBodySize: DefaultMaxResponseBodySize,
		StalePendingAfter:   DefaultStalePendingAfter,
	}
}

func Load() (*Config, error) {
	var missing []string
	var invalid []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	getOr := func(key, def string) string {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
		return def
	}

	getInt := func(key string, def int) int {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			invalid = append(invalid, key)
			return def
		}
		return n
	}

	// getPositiveInt rejects 0 where zero has no meaning, such as a retry budget
	getPositiveInt := func(key string, def int) int {
		n := getInt(key, def)
		if n < 1 {
			invalid = append(invalid, key)
			return def
		}
		return n
	}

	getSeconds := func(key string, def time.Duration) time.Duration {
		return time.Duration(getInt(key, int(def/time.Second))) * time.Second
	}

	getDuration := func(key string, def time.Duration) time.Duration {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			invalid = append(invalid, key)
			return def
		}
		return d
	}

	getBool := func(key string, def bool) bool {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			invalid = append(invalid, key)
			return def
		}
		return b
	}

	config := &Config{
		Server: ServerConfig{
			Port: getOr("SERVER_PORT", "8080"),
			Host: getOr("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     getOr("DB_PORT", "5432"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  getOr("DB_SSLMODE", "disable"),

			MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                  os.Getenv("RABBITMQ_URL"),
			Host:                 os.Getenv("RABBITMQ_HOST"),
			Port:                 getOr("RABBITMQ_PORT", "5672"),
			User:                 os.Getenv("RABBITMQ_USER"),
			Password:             os.Getenv("RABBITMQ_PASSWORD"),
			VHost:                getOr("RABBITMQ_VHOST", "/"),
			DeadLetterExchange:   os.Getenv("DEAD_LETTER_EXCHANGE"),
			DeadLetterRoutingKey: getOr("DEAD_LETTER_ROUTING_KEY", "sync.dead_letter"),
		},
		Sync: SyncConfig{
			Enabled:             getBool("SYNC_ENABLED", true),
			AIServiceBaseURL:    strings.TrimRight(os.Getenv("AI_SERVICE_BASE_URL"), "/"),
			WebhookPath:         getOr("AI_SERVICE_WEBHOOK_PATH", DefaultWebhookPath),
			SigningSecret:       os.Getenv("WEBHOOK_SIGNING_SECRET"),
			WebhookTimeout:      getSeconds("WEBHOOK_TIMEOUT_SECONDS", DefaultWebhookTimeout),
			TokenTTL:            getSeconds("WEBHOOK_TOKEN_TTL_SECONDS", DefaultTokenTTL),
			MaxRetryAttempts:    getPositiveInt("MAX_RETRY_ATTEMPTS", DefaultMaxRetryAttempts),
			RetryBaseDelay:      time.Duration(getPositiveInt("RETRY_BASE_DELAY_SECONDS", int(DefaultRetryBaseDelay/time.Second))) * time.Second,
			MaxResponseBodySize: getInt("MAX_RESPONSE_BODY_SIZE", DefaultMaxResponseBodySize),
			StalePendingAfter:   getSeconds("STALE_PENDING_SECONDS", DefaultStalePendingAfter),
		},
		Scheduler: SchedulerConfig{
			RetryInterval: getDuration("RETRY_INTERVAL", DefaultRetryInterval),
			PurgeInterval: getDuration("PURGE_INTERVAL", DefaultPurgeInterval),
			BatchLimit:    getInt("RETRY_BATCH_LIMIT", DefaultBatchLimit),
			PurgeDays:     getInt("PURGE_DAYS", DefaultPurgeDays),
		},
		Intake: IntakeConfig{
			Queue:         os.Getenv("INTAKE_QUEUE"),
			PrefetchCount: getInt("INTAKE_PREFETCH", DefaultIntakePrefetch),
		},
		LogLevel: getOr("LOG_LEVEL", "info"),
	}

	// The webhook target and signing key only matter when delivery is on
	if config.Sync.Enabled {
		get("AI_SERVICE_BASE_URL")
		get("WEBHOOK_SIGNING_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid values for environment variables: %v", invalid)
	}

	return config, nil
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns the postgres URL expected by golang-migrate
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// Enabled reports whether a broker is configured at all
func (c *RabbitMQConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	vhost := c.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
		c.User, c.Password, c.Host, c.Port, strings.TrimPrefix(vhost, "/"))
}
