package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Store backends
const (
	BackendMongoDB  = "mongodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Mail transports of the notifier
const (
	MailTransportSMTP     = "smtp"
	MailTransportRabbitMQ = "rabbitmq"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	MongoDB  MongoDBConfig  `yaml:"mongodb"`
	SQS      SQSConfig      `yaml:"sqs"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Status   StatusConfig   `yaml:"status"`
	Trash    TrashConfig    `yaml:"trash"`
	Notifier NotifierConfig `yaml:"notifier"`
	Relay    RelayConfig    `yaml:"relay"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// StoreConfig selects the index backend
type StoreConfig struct {
	Backend string `yaml:"backend"`
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

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	AuthSource     string        `yaml:"auth_source"`
	MaxPoolSize    uint64        `yaml:"max_pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// SQSConfig holds job channel transport configuration
type SQSConfig struct {
	Region            string        `yaml:"region"`
	Endpoint          string        `yaml:"endpoint"`
	Profile           string        `yaml:"profile"`
	AccessKeyID       string        `yaml:"access_key_id"`
	SecretAccessKey   string        `yaml:"secret_access_key"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Retention         time.Duration `yaml:"retention"`
	ReceiveMax        int           `yaml:"receive_max"`
	ReceiveWait       time.Duration `yaml:"receive_wait"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	// InMemory replaces SQS with an in-process transport for local development
	InMemory bool `yaml:"in_memory"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host               string           `yaml:"host"`
	Port               int              `yaml:"port"`
	User               string           `yaml:"user"`
	Password           string           `yaml:"password"`
	VHost              string           `yaml:"vhost"`
	Exchange           ExchangeConfig   `yaml:"exchange"`
	Queue              QueueConfig      `yaml:"queue"`
	RoutingKey         string           `yaml:"routing_key"`
	DeadLetterExchange string           `yaml:"dead_letter_exchange"`
	Connection         ConnectionConfig `yaml:"connection"`
	Publish            PublishConfig    `yaml:"publish"`
	Consumer           ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
	StartTLS bool          `yaml:"starttls"`
}

// StatusConfig holds the age limits of the status reader
type StatusConfig struct {
	SoftLimit time.Duration `yaml:"soft_limit"`
	HardLimit time.Duration `yaml:"hard_limit"`
}

// TrashConfig holds the trash retention window
type TrashConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// NotifierConfig holds notification daemon configuration
type NotifierConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Window         time.Duration `yaml:"window"`
	Concurrency    int           `yaml:"concurrency"`
	ReadsPerSecond float64       `yaml:"reads_per_second"`
	MailTransport  string        `yaml:"mail_transport"`
}

// RelayConfig holds mail relay configuration
type RelayConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment, parses it and fills defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values with their defaults
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMongoDB
	}
	if c.SQS.Retention <= 0 {
		c.SQS.Retention = 14 * 24 * time.Hour
	}
	if c.SQS.ReceiveMax <= 0 {
		c.SQS.ReceiveMax = 10
	}
	if c.SQS.ReceiveWait <= 0 {
		c.SQS.ReceiveWait = 12 * time.Second
	}
	if c.Status.SoftLimit <= 0 {
		c.Status.SoftLimit = 14 * 24 * time.Hour
	}
	if c.Status.HardLimit <= 0 {
		c.Status.HardLimit = 30 * 24 * time.Hour
	}
	if c.Trash.Retention <= 0 {
		c.Trash.Retention = 14 * 24 * time.Hour
	}
	if c.Notifier.Interval <= 0 {
		c.Notifier.Interval = time.Minute
	}
	if c.Notifier.Window <= 0 {
		c.Notifier.Window = 30 * 24 * time.Hour
	}
	if c.Notifier.Concurrency <= 0 {
		c.Notifier.Concurrency = 16
	}
	if c.Notifier.MailTransport == "" {
		c.Notifier.MailTransport = MailTransportSMTP
	}
	if c.Relay.Concurrency <= 0 {
		c.Relay.Concurrency = 4
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 25
	}
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

// Validate checks the settings every service needs: the index backend and
// the channel transport.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMongoDB:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("mongodb uri is required")
		}
		if c.MongoDB.Database == "" {
			return fmt.Errorf("mongodb database is required")
		}
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if err := validatePort("database", c.Database.Port); err != nil {
			return err
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if !c.SQS.InMemory {
		if (c.SQS.AccessKeyID == "") != (c.SQS.SecretAccessKey == "") {
			return fmt.Errorf("sqs access_key_id and secret_access_key must be set together")
		}
	}
	if c.SQS.ReceiveMax > 10 {
		return fmt.Errorf("sqs receive_max must be at most 10")
	}
	if c.Status.SoftLimit > c.Status.HardLimit {
		return fmt.Errorf("status soft_limit must not exceed hard_limit")
	}

	return nil
}

// ValidateAPI checks the API service configuration
func (c *Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return validatePort("server", c.Server.Port)
}

// ValidateNotifier checks the notifier service configuration
func (c *Config) ValidateNotifier() error {
	if err := c.Validate(); err != nil {
		return err
	}

	switch c.Notifier.MailTransport {
	case MailTransportSMTP:
		if err := c.validateSMTP(); err != nil {
			return err
		}
	case MailTransportRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown notifier mail_transport: %q", c.Notifier.MailTransport)
	}

	if c.Notifier.ReadsPerSecond < 0 {
		return fmt.Errorf("notifier reads_per_second must not be negative")
	}
	return nil
}

// ValidateRelay checks the mail relay configuration
func (c *Config) ValidateRelay() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}
	return c.validateSMTP()
}

func (c *Config) validateSMTP() error {
	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if err := validatePort("smtp", c.SMTP.Port); err != nil {
		return err
	}
	if c.SMTP.From == "" {
		return fmt.Errorf("smtp from is required")
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	return nil
}
