package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("TEST_MONGO_HOST", "mongo.internal")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "mongodb://mongo.internal:27017", cfg.MongoDB.URI)
			assert.Equal(t, "portal", cfg.MongoDB.Database)
			assert.Equal(t, 14*24*time.Hour, cfg.Status.SoftLimit)
			assert.Equal(t, 30*24*time.Hour, cfg.Status.HardLimit)
			assert.Equal(t, 2*time.Minute, cfg.Notifier.Interval)
			assert.Equal(t, 20.0, cfg.Notifier.ReadsPerSecond)
			assert.Equal(t, MailTransportRabbitMQ, cfg.Notifier.MailTransport)
			assert.Equal(t, "mail_queue", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "jobstatus-api", cfg.App.Name)
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, BackendMongoDB, cfg.Store.Backend)
	assert.Equal(t, 14*24*time.Hour, cfg.SQS.Retention)
	assert.Equal(t, 10, cfg.SQS.ReceiveMax)
	assert.Equal(t, 12*time.Second, cfg.SQS.ReceiveWait)
	assert.Equal(t, time.Duration(0), cfg.SQS.VisibilityTimeout)
	assert.Equal(t, 14*24*time.Hour, cfg.Status.SoftLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Status.HardLimit)
	assert.Equal(t, 14*24*time.Hour, cfg.Trash.Retention)
	assert.Equal(t, 30*24*time.Hour, cfg.Notifier.Window)
	assert.Equal(t, 16, cfg.Notifier.Concurrency)
	assert.Equal(t, MailTransportSMTP, cfg.Notifier.MailTransport)
}

func validConfig() *Config {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080},
		MongoDB: MongoDBConfig{URI: "mongodb://localhost:27017", Database: "portal"},
		SMTP:    SMTPConfig{Host: "smtp.example.org", Port: 587, From: "noreply@example.org"},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "mail_exchange"},
			Queue:    QueueConfig{Name: "mail_queue"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		validate  func(*Config) error
		errString string
	}{
		{
			name:     "valid api config",
			mutate:   func(*Config) {},
			validate: (*Config).ValidateAPI,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			validate:  (*Config).ValidateAPI,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			validate:  (*Config).ValidateAPI,
			errString: "invalid server port",
		},
		{
			name:      "missing mongodb uri",
			mutate:    func(c *Config) { c.MongoDB.URI = "" },
			validate:  (*Config).Validate,
			errString: "mongodb uri is required",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Store.Backend = BackendPostgres
				c.Database = DatabaseConfig{Port: 5432, Database: "jobs"}
			},
			validate:  (*Config).Validate,
			errString: "database host is required",
		},
		{
			name:      "memory backend needs nothing",
			mutate:    func(c *Config) { c.Store.Backend = BackendMemory; c.MongoDB = MongoDBConfig{} },
			validate:  (*Config).Validate,
			errString: "",
		},
		{
			name:      "unknown backend",
			mutate:    func(c *Config) { c.Store.Backend = "redis" },
			validate:  (*Config).Validate,
			errString: "unknown store backend",
		},
		{
			name:      "half sqs credentials",
			mutate:    func(c *Config) { c.SQS.AccessKeyID = "AKIA" },
			validate:  (*Config).Validate,
			errString: "must be set together",
		},
		{
			name:      "receive max above sqs limit",
			mutate:    func(c *Config) { c.SQS.ReceiveMax = 11 },
			validate:  (*Config).Validate,
			errString: "receive_max must be at most 10",
		},
		{
			name:      "soft limit above hard limit",
			mutate:    func(c *Config) { c.Status.SoftLimit = 31 * 24 * time.Hour },
			validate:  (*Config).Validate,
			errString: "soft_limit must not exceed hard_limit",
		},
		{
			name:     "notifier over smtp",
			mutate:   func(*Config) {},
			validate: (*Config).ValidateNotifier,
		},
		{
			name:      "notifier over smtp without host",
			mutate:    func(c *Config) { c.SMTP.Host = "" },
			validate:  (*Config).ValidateNotifier,
			errString: "smtp host is required",
		},
		{
			name: "notifier over rabbitmq without queue",
			mutate: func(c *Config) {
				c.Notifier.MailTransport = MailTransportRabbitMQ
				c.RabbitMQ.Queue.Name = ""
			},
			validate:  (*Config).ValidateNotifier,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "unknown mail transport",
			mutate:    func(c *Config) { c.Notifier.MailTransport = "pigeon" },
			validate:  (*Config).ValidateNotifier,
			errString: "unknown notifier mail_transport",
		},
		{
			name:     "relay",
			mutate:   func(*Config) {},
			validate: (*Config).ValidateRelay,
		},
		{
			name:      "relay without rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			validate:  (*Config).ValidateRelay,
			errString: "rabbitmq host is required",
		},
		{
			name:      "relay without smtp sender",
			mutate:    func(c *Config) { c.SMTP.From = "" },
			validate:  (*Config).ValidateRelay,
			errString: "smtp from is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := tt.validate(cfg)
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		t.Setenv("TEST_MONGO_HOST", "localhost")
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPI())
		require.NoError(t, cfg.ValidateNotifier())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPI()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
