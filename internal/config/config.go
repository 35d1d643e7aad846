package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultQueueCapacity bounds a class queue when none is configured
	DefaultQueueCapacity = 50
	// DefaultJobTimeout bounds one publisher invocation when none is configured
	DefaultJobTimeout = 180 * time.Second
	// DefaultMaxItems caps the content keys accepted in one submission
	DefaultMaxItems = 20
	// DefaultFeedMaxAttempts caps submissions of a failing feed link
	DefaultFeedMaxAttempts = 3
	// DefaultFeedRetryBackoff is the wait before a failed feed link is offered again
	DefaultFeedRetryBackoff = 15 * time.Minute
	// DefaultShutdownTimeout is the floor of the graceful shutdown budget
	DefaultShutdownTimeout = 30 * time.Second
	// ShutdownGrace is added to the longest job timeout when deriving the shutdown budget
	ShutdownGrace = 30 * time.Second
)

// Trace exporters
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// Idempotency store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Tracing     TracingConfig     `yaml:"tracing"`
	JobClasses  []JobClassConfig  `yaml:"job_classes"`
	Feeds       []FeedConfig      `yaml:"feeds"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits job submissions per client IP. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// IdempotencyConfig selects the idempotency store backend
type IdempotencyConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	RedisURL   string `yaml:"redis_url"`
	// RedisKeyPrefix namespaces every key, letting services share one Redis database
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// RabbitMQConfig holds the task event publisher configuration
type RabbitMQConfig struct {
	Enabled          bool             `yaml:"enabled"`
	Host             string           `yaml:"host"`
	Port             int              `yaml:"port"`
	User             string           `yaml:"user"`
	Password         string           `yaml:"password"`
	VHost            string           `yaml:"vhost"`
	Exchange         ExchangeConfig   `yaml:"exchange"`
	RoutingKeyPrefix string           `yaml:"routing_key_prefix"`
	Connection       ConnectionConfig `yaml:"connection"`
	Publish          PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// TracingConfig toggles the OpenTelemetry SDK tracer provider
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Exporter    string  `yaml:"exporter"` // none, stdout
	Output      string  `yaml:"output"`   // stdout, stderr, or file path
}

// JobClassConfig describes one job class: its queue, timeout and publisher adapter
type JobClassConfig struct {
	Name          string          `yaml:"name"`
	QueueCapacity int             `yaml:"queue_capacity"`
	Timeout       time.Duration   `yaml:"timeout"`
	MaxItems      int             `yaml:"max_items"`
	RequireURL    bool            `yaml:"require_url"`
	Publisher     PublisherConfig `yaml:"publisher"`
}

// PublisherConfig describes the subprocess that performs the platform-specific publish
type PublisherConfig struct {
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Dir       string            `yaml:"dir"`
	Env       map[string]string `yaml:"env"`
	WaitDelay time.Duration     `yaml:"wait_delay"`
	Retry     RetryConfig       `yaml:"retry"`
}

// RetryConfig is the per-platform retry strategy handed to the publisher adapter
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// FeedConfig describes an RSS/Atom source whose items are submitted to a job class
type FeedConfig struct {
	Name     string                 `yaml:"name"`
	URL      string                 `yaml:"url"`
	JobClass string                 `yaml:"job_class"`
	Schedule string                 `yaml:"schedule"`
	MaxItems int                    `yaml:"max_items"`
	Payload  map[string]interface{} `yaml:"payload"`
	// MaxAttempts caps submissions of a link whose tasks keep failing
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBackoff is the wait after the first failed attempt; it doubles per failure
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills zero values with service defaults
func (c *Config) ApplyDefaults() {
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Idempotency.Driver == "" {
		c.Idempotency.Driver = DriverPostgres
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "topic"
	}
	if c.RabbitMQ.RoutingKeyPrefix == "" {
		c.RabbitMQ.RoutingKeyPrefix = "task"
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 3
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = TraceExporterStdout
	}

	for i := range c.JobClasses {
		jc := &c.JobClasses[i]
		if jc.QueueCapacity == 0 {
			jc.QueueCapacity = DefaultQueueCapacity
		}
		if jc.Timeout == 0 {
			jc.Timeout = DefaultJobTimeout
		}
		if jc.MaxItems == 0 {
			jc.MaxItems = DefaultMaxItems
		}
		if jc.Publisher.WaitDelay == 0 {
			jc.Publisher.WaitDelay = 5 * time.Second
		}
		if jc.Publisher.Retry.MaxAttempts == 0 {
			jc.Publisher.Retry.MaxAttempts = 1
		}
		if jc.Publisher.Retry.BackoffMultiplier == 0 {
			jc.Publisher.Retry.BackoffMultiplier = 2
		}
	}

	for i := range c.Feeds {
		if c.Feeds[i].MaxItems == 0 {
			c.Feeds[i].MaxItems = 10
		}
		if c.Feeds[i].MaxAttempts == 0 {
			c.Feeds[i].MaxAttempts = DefaultFeedMaxAttempts
		}
		if c.Feeds[i].RetryBackoff == 0 {
			c.Feeds[i].RetryBackoff = DefaultFeedRetryBackoff
		}
	}

	// shutdown must outlast the longest in-flight publish
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
		if minimum := c.MaxJobTimeout() + ShutdownGrace; minimum > c.Server.ShutdownTimeout {
			c.Server.ShutdownTimeout = minimum
		}
	}
}

// MaxJobTimeout returns the longest job class timeout
func (c *Config) MaxJobTimeout() time.Duration {
	var longest time.Duration
	for _, jc := range c.JobClasses {
		if jc.Timeout > longest {
			longest = jc.Timeout
		}
	}
	return longest
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}

	if err := c.ValidateStore(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	if len(c.JobClasses) == 0 {
		return fmt.Errorf("at least one job class is required")
	}

	classes := make(map[string]bool, len(c.JobClasses))
	for _, jc := range c.JobClasses {
		if jc.Name == "" {
			return fmt.Errorf("job class name is required")
		}
		if classes[jc.Name] {
			return fmt.Errorf("duplicate job class: %s", jc.Name)
		}
		classes[jc.Name] = true

		if jc.QueueCapacity <= 0 {
			return fmt.Errorf("job class %s: queue_capacity must be greater than 0", jc.Name)
		}
		if jc.Timeout <= 0 {
			return fmt.Errorf("job class %s: timeout must be greater than 0", jc.Name)
		}
		if jc.MaxItems <= 0 {
			return fmt.Errorf("job class %s: max_items must be greater than 0", jc.Name)
		}
		if jc.Publisher.Command == "" {
			return fmt.Errorf("job class %s: publisher command is required", jc.Name)
		}
		if jc.Publisher.Retry.MaxAttempts < 0 || jc.Publisher.Retry.InitialBackoff < 0 {
			return fmt.Errorf("job class %s: retry values must not be negative", jc.Name)
		}
	}

	if longest := c.MaxJobTimeout(); c.Server.ShutdownTimeout < longest {
		return fmt.Errorf("shutdown_timeout (%s) must be at least the longest job class timeout (%s)", c.Server.ShutdownTimeout, longest)
	}

	switch c.Tracing.Exporter {
	case "", TraceExporterNone, TraceExporterStdout:
	default:
		return fmt.Errorf("unknown tracing exporter: %q", c.Tracing.Exporter)
	}

	for _, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feed name is required")
		}
		u, err := url.Parse(feed.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("feed %s: url must be an absolute http(s) url", feed.Name)
		}
		if !classes[feed.JobClass] {
			return fmt.Errorf("feed %s: unknown job class %q", feed.Name, feed.JobClass)
		}
		if feed.Schedule == "" {
			return fmt.Errorf("feed %s: schedule is required", feed.Name)
		}
		if feed.MaxAttempts < 0 || feed.RetryBackoff < 0 {
			return fmt.Errorf("feed %s: retry values must not be negative", feed.Name)
		}
	}

	return nil
}

// ValidateStore checks the idempotency store settings only
func (c *Config) ValidateStore() error {
	switch c.Idempotency.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverSQLite:
		if c.Idempotency.SQLitePath == "" {
			return fmt.Errorf("idempotency sqlite_path is required")
		}
	case DriverRedis:
		if c.Idempotency.RedisURL == "" {
			return fmt.Errorf("idempotency redis_url is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown idempotency driver: %q", c.Idempotency.Driver)
	}
	return nil
}

// JobClass returns the configuration of the named class
func (c *Config) JobClass(name string) (*JobClassConfig, bool) {
	for i := range c.JobClasses {
		if c.JobClasses[i].Name == name {
			return &c.JobClasses[i], true
		}
	}
	return nil, false
}
