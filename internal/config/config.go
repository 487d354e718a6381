package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  string          `yaml:"provider"` // "ses" or "sendgrid"
	AWS       AWSConfig       `yaml:"aws"`
	SES       SESConfig       `yaml:"ses"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	SQS       SQSConfig       `yaml:"sqs"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                int      `yaml:"port"`
	Host                string   `yaml:"host"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	CORSOrigins         []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ReadTimeout returns the HTTP read timeout.
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// DatabaseConfig selects and configures the record store.
type DatabaseConfig struct {
	Backend      string `yaml:"backend"` // "memory", "postgres" or "dynamodb"
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for dispatch locks.
// An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AWSConfig holds credentials shared by every AWS client. Empty keys fall
// back to the default credential chain (instance role, profile).
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"` // local emulators only
}

// SESConfig holds AWS SES sending configuration
type SESConfig struct {
	ConfigurationSet string `yaml:"configuration_set"`
}

// SendGridConfig holds SendGrid API configuration
type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
}

// DynamoDBConfig holds the single-table name for the dynamodb backend.
type DynamoDBConfig struct {
	Table string `yaml:"table"`
}

// SQSConfig holds the tracking event queue.
type SQSConfig struct {
	TrackingQueueURL string `yaml:"tracking_queue_url"`
	WaitTimeSeconds  int    `yaml:"wait_time_seconds"`
	MaxMessages      int    `yaml:"max_messages"`
}

// ArchiveConfig holds where raw inbound payloads are kept. Bucket selects
// S3; otherwise LocalPath selects a directory; with neither, archiving is
// off.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	LocalPath string `yaml:"local_path"`
}

// DispatchConfig holds batching and timeout settings for sends.
type DispatchConfig struct {
	BatchSize          int  `yaml:"batch_size"`
	BatchDelayMS       *int `yaml:"batch_delay_ms"`
	SendTimeoutSeconds int  `yaml:"send_timeout_seconds"`
	LockTTLSeconds     int  `yaml:"lock_ttl_seconds"`
}

// BatchDelay returns the pause between batches; 900ms when unset. An
// explicit 0 disables the pause.
func (c DispatchConfig) BatchDelay() time.Duration {
	if c.BatchDelayMS == nil {
		return 900 * time.Millisecond
	}
	return time.Duration(max(*c.BatchDelayMS, 0)) * time.Millisecond
}

// SendTimeout returns the per-send deadline.
func (c DispatchConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// LockTTL returns the per-campaign dispatch lock lifetime.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// TrackingConfig holds the open/click endpoint settings.
type TrackingConfig struct {
	BaseURL       string `yaml:"base_url"`
	MessageDomain string `yaml:"message_domain"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	Sink          string `yaml:"sink"` // "direct" or "sqs"
}

// Timeout bounds the state update behind a pixel or redirect.
func (c TrackingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// WebhookConfig holds provider webhook settings.
type WebhookConfig struct {
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	AllowedTopicARNs []string `yaml:"allowed_topic_arns"`
}

// Timeout bounds one webhook request.
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether email addresses are masked; default on.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// RateLimitConfig holds per-IP API throttling. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for
// running without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 120
	}
	if cfg.Database.Backend == "" {
		cfg.Database.Backend = "memory"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Provider == "" {
		cfg.Provider = "ses"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.DynamoDB.Table == "" {
		cfg.DynamoDB.Table = "outreach"
	}
	if cfg.SQS.WaitTimeSeconds == 0 {
		cfg.SQS.WaitTimeSeconds = 20
	}
	if cfg.SQS.MaxMessages == 0 {
		cfg.SQS.MaxMessages = 10
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "inbound"
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 10
	}
	if cfg.Dispatch.SendTimeoutSeconds == 0 {
		cfg.Dispatch.SendTimeoutSeconds = 30
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 600
	}
	if cfg.Tracking.TimeoutMS == 0 {
		cfg.Tracking.TimeoutMS = 2000
	}
	if cfg.Tracking.Sink == "" {
		cfg.Tracking.Sink = "direct"
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars on ECS. An empty path
// starts from Default.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DISPATCH_BATCH_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.BatchDelayMS = &ms
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		if cfg.Database.Backend == "memory" {
			cfg.Database.Backend = "postgres"
		}
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Database.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY"); v != "" {
		cfg.AWS.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_KEY"); v != "" {
		cfg.AWS.SecretKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		cfg.AWS.Endpoint = v
	}
	if v := os.Getenv("SES_CONFIGURATION_SET"); v != "" {
		cfg.SES.ConfigurationSet = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		cfg.DynamoDB.Table = v
	}
	if v := os.Getenv("TRACKING_QUEUE_URL"); v != "" {
		cfg.SQS.TrackingQueueURL = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("ARCHIVE_PATH"); v != "" {
		cfg.Archive.LocalPath = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("MESSAGE_DOMAIN"); v != "" {
		cfg.Tracking.MessageDomain = v
	}
	if v := os.Getenv("TRACKING_SINK"); v != "" {
		cfg.Tracking.Sink = v
	}
	if v := os.Getenv("SNS_ALLOWED_TOPIC_ARNS"); v != "" {
		cfg.Webhook.AllowedTopicARNs = splitList(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate checks the settings every binary depends on.
func (cfg *Config) Validate() error {
	switch cfg.Provider {
	case "ses", "sendgrid":
	default:
		return fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	switch cfg.Database.Backend {
	case "memory", "dynamodb":
	case "postgres":
		if cfg.Database.URL == "" {
			return fmt.Errorf("config: database.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown database backend %q", cfg.Database.Backend)
	}
	switch cfg.Tracking.Sink {
	case "direct":
	case "sqs":
		if cfg.SQS.TrackingQueueURL == "" {
			return fmt.Errorf("config: sqs.tracking_queue_url is required for the sqs tracking sink")
		}
	default:
		return fmt.Errorf("config: unknown tracking sink %q", cfg.Tracking.Sink)
	}
	u, err := url.Parse(cfg.Tracking.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: tracking.base_url must be an absolute http(s) URL, got %q", cfg.Tracking.BaseURL)
	}
	if cfg.Tracking.MessageDomain == "" {
		cfg.Tracking.MessageDomain = u.Hostname()
	}
	if cfg.Provider == "sendgrid" && cfg.SendGrid.APIKey == "" {
		return fmt.Errorf("config: sendgrid.api_key is required for the sendgrid provider")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
