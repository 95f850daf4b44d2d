package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/metrics"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/pkg/retry"
	"github.com/ignite/campaign-mailer/internal/provider"
	"github.com/ignite/campaign-mailer/internal/store"
	"github.com/ignite/campaign-mailer/internal/throttle"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Campaign CampaignConfig `yaml:"campaign"`
	Store    store.Config   `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Export   ExportConfig   `yaml:"export"`
	Logging  logger.Config  `yaml:"logging"`
	Metrics  metrics.Config `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port" validate:"gte=0,lte=65535"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ShutdownSeconds bounds graceful shutdown.
	ShutdownSeconds int `yaml:"shutdown_seconds" validate:"gte=0"`
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

// ShutdownTimeout returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// ProviderConfig is the sending provider plus an optional SMTP preset
// that fills host, port and security for well-known services.
type ProviderConfig struct {
	domain.ProviderConfig `yaml:",inline"`
	SMTPPreset            string `yaml:"smtp_preset"`
}

// CampaignConfig tunes the campaign runner.
type CampaignConfig struct {
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=256"`
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=20"`
	// BackoffBase and BackoffMax bound the exponential retry delay.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	// SendInterval is the minimum spacing between delivery attempts.
	SendInterval    time.Duration `yaml:"send_interval" validate:"gte=0"`
	EmailColumn     string        `yaml:"email_column" validate:"required"`
	IDColumn        string        `yaml:"id_column"`
	RequireNonEmpty bool          `yaml:"require_non_empty"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

// RetryPolicy returns the delivery retry policy.
func (c CampaignConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BackoffBase,
		MaxDelay:    c.BackoffMax,
		Jitter:      true,
	}.Normalize()
}

// RedisConfig enables the shared throttle and cross-host campaign lock.
type RedisConfig struct {
	URL string `yaml:"url"`
	// Limits override throttle.ProviderLimits for the configured provider.
	Limits throttle.Limits `yaml:"limits"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

// ExportConfig holds outcome export settings
type ExportConfig struct {
	Dir        string `yaml:"dir" validate:"required"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ExportConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownSeconds == 0 {
		cfg.Server.ShutdownSeconds = 30
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}

	if cfg.Provider.Type == "" {
		cfg.Provider.Type = domain.ProviderSMTP
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = provider.DefaultTimeout
	}
	if cfg.Provider.Type == domain.ProviderSMTP && cfg.Provider.SMTP.Security == "" {
		cfg.Provider.SMTP.Security = domain.SMTPStartTLS
	}
	if cfg.Provider.Type == domain.ProviderSES && cfg.Provider.SES.Region == "" {
		cfg.Provider.SES.Region = "us-east-1"
	}

	if cfg.Campaign.Concurrency == 0 {
		cfg.Campaign.Concurrency = 1
	}
	d := retry.DefaultPolicy()
	if cfg.Campaign.MaxAttempts == 0 {
		cfg.Campaign.MaxAttempts = d.MaxAttempts
	}
	if cfg.Campaign.BackoffBase == 0 {
		cfg.Campaign.BackoffBase = d.BaseDelay
	}
	if cfg.Campaign.BackoffMax == 0 {
		cfg.Campaign.BackoffMax = d.MaxDelay
	}
	if cfg.Campaign.EmailColumn == "" {
		cfg.Campaign.EmailColumn = domain.DefaultEmailColumn
	}
	if cfg.Campaign.LockTTL == 0 {
		cfg.Campaign.LockTTL = 30 * time.Minute
	}

	sd := store.DefaultConfig()
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = sd.Driver
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == store.DialectSQLite {
		cfg.Store.DSN = sd.DSN
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = sd.MaxOpenConns
	}

	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "logs"
	}
	if cfg.Export.S3Region == "" {
		cfg.Export.S3Region = "us-east-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logger.INFO
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logger.FormatJSON
	}

	md := metrics.DefaultConfig()
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = md.Namespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = md.Path
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
// An empty path starts from Default.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	p := &cfg.Provider
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		p.Type = domain.ProviderType(v)
	}
	if v := os.Getenv("MAIL_FROM_EMAIL"); v != "" {
		p.FromEmail = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		p.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORT: %w", err)
		}
		p.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		p.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		p.SMTP.Password = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		p.SendGrid.APIKey = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		p.Mailgun.APIKey = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		p.Mailgun.Domain = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		p.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		p.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		p.SES.Region = v
	}

	// A database URL switches the outcome store to Postgres.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.Driver = store.DialectPostgres
		cfg.Store.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = logger.Level(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = logger.Format(v)
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and applies the SMTP preset. The
// provider's own settings are checked when a run starts.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.Provider.Type.Valid() {
		return fmt.Errorf("invalid config: unsupported provider %q", c.Provider.Type)
	}
	if c.Provider.SMTPPreset != "" {
		smtp, err := provider.ApplySMTPPreset(c.Provider.SMTPPreset, c.Provider.SMTP)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		c.Provider.SMTP = smtp
	}
	switch c.Logging.Level {
	case logger.DEBUG, logger.INFO, logger.WARN, logger.ERROR:
	default:
		return fmt.Errorf("invalid config: log level %q", c.Logging.Level)
	}
	return nil
}
