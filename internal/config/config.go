package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// Source types
const (
	SourceCustom     = "custom"
	SourceThirdParty = "thirdparty"
	SourcePostgres   = "postgres"
	SourceSQLite     = "sqlite"
)

// Defaults applied by ApplyDefaults
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultConcurrency   = 10
	DefaultShutdownGrace = time.Minute
	DefaultLeaseDuration = 5 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultHTTPPort      = 8081
	DefaultRegion        = "us-east-1"
	DefaultClientToken   = "DEFAULT_CLIENT_TOKEN"
	DefaultEventTimeout  = 5 * time.Second
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
	Source   SourceConfig   `yaml:"source"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	HTTP     HTTPConfig     `yaml:"http"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format       string `yaml:"format" validate:"omitempty,oneof=json console"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// WorkerConfig holds the polling loop configuration
type WorkerConfig struct {
	// Concurrency is the number of worker slots
	Concurrency int `yaml:"concurrency" validate:"gte=1"`
	// BatchSize caps a single poll; defaults to Concurrency
	BatchSize    int           `yaml:"batch_size" validate:"gte=1,ltefield=Concurrency"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=1s"`
	// PollSchedule is an optional cron expression overriding PollInterval
	PollSchedule  string        `yaml:"poll_schedule"`
	TaskTimeout   time.Duration `yaml:"task_timeout" validate:"gte=0"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gt=0"`
}

// SourceConfig selects and configures the job source
type SourceConfig struct {
	Type       string            `yaml:"type" validate:"required,oneof=custom thirdparty postgres sqlite"`
	ActionType domain.ActionType `yaml:"action_type"`
	Region     string            `yaml:"region"`
	// ClientTokens maps third-party client ids to client tokens
	ClientTokens       map[string]string `yaml:"client_tokens"`
	DefaultClientToken string            `yaml:"default_client_token"`
	SQLitePath         string            `yaml:"sqlite_path"`
	LeaseDuration      time.Duration     `yaml:"lease_duration" validate:"gte=0"`
	MaxAttempts        int               `yaml:"max_attempts" validate:"gte=0"`
	// Events publishes job lifecycle events to RabbitMQ
	Events bool `yaml:"events"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
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
	// Timeout bounds one job event publish, retries included
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPConfig holds the admin HTTP server configuration
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Output      string `yaml:"output"`
	PrettyPrint bool   `yaml:"pretty_print"`
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults. It does not validate.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.ApplyDefaults()
	return &config, nil
}

// applyEnv lets secrets and the region come from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && c.Source.Region == "" {
		c.Source.Region = v
	}
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "job-worker"
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = DefaultConcurrency
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = c.Worker.Concurrency
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = DefaultPollInterval
	}
	if c.Worker.ShutdownGrace == 0 {
		c.Worker.ShutdownGrace = DefaultShutdownGrace
	}

	if c.Source.ActionType == (domain.ActionType{}) {
		if c.Source.Type == SourceThirdParty {
			c.Source.ActionType = domain.DefaultThirdPartyActionType
		} else {
			c.Source.ActionType = domain.DefaultCustomActionType
		}
	}
	if c.Source.Region == "" {
		c.Source.Region = DefaultRegion
	}
	if c.Source.DefaultClientToken == "" {
		c.Source.DefaultClientToken = DefaultClientToken
	}
	if c.Source.LeaseDuration == 0 {
		c.Source.LeaseDuration = DefaultLeaseDuration
	}
	if c.Source.MaxAttempts == 0 {
		c.Source.MaxAttempts = DefaultMaxAttempts
	}

	if c.RabbitMQ.Publish.Timeout == 0 {
		c.RabbitMQ.Publish.Timeout = DefaultEventTimeout
	}

	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks struct tags and the settings each source type needs
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			msgs := make([]string, 0, len(validationErrs))
			for _, fe := range validationErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Source.Type {
	case SourceCustom, SourceThirdParty:
		if err := c.Source.ActionType.Validate(); err != nil {
			return err
		}
	case SourcePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for source type %q", c.Source.Type)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required for source type %q", c.Source.Type)
		}
	case SourceSQLite:
		if c.Source.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for source type %q", c.Source.Type)
		}
	}

	if c.Source.Events {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required when events are enabled")
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required when events are enabled")
		}
	}

	return nil
}

// UsesSQL reports whether the job source is the built-in SQL job table
func (c *Config) UsesSQL() bool {
	return c.Source.Type == SourcePostgres || c.Source.Type == SourceSQLite
}
