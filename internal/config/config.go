package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LogSource LogSourceConfig `mapstructure:"logsource"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Retention RetentionConfig `mapstructure:"retention"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration. Driver selects
// between the mysql profile (host/port/user/password/dbname) and the sqlite
// profile (path).
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// LogSourceConfig holds the upstream log API configuration
type LogSourceConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebhookConfig holds the status webhook destination configuration. An empty
// URL means no destination is configured and pending rows are permanently
// skipped instead of delivered.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SMTPConfig holds outbound SMTP submission configuration. Accounts is a
// JSON object mapping sender addresses to passwords.
type SMTPConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Secure          bool   `mapstructure:"secure"`
	Accounts        string `mapstructure:"accounts"`
	FallbackAccount string `mapstructure:"fallback_account"`
}

// TrackingConfig holds open-tracking configuration
type TrackingConfig struct {
	AppOrigin string `mapstructure:"app_origin"`
}

// RetentionConfig holds log retention configuration
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	CronSpec string `mapstructure:"cron_spec"`
}

// AuthConfig holds the optional shared password protecting the send endpoint
type AuthConfig struct {
	Password string `mapstructure:"password"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "3005")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.path", "db/mail_logs.db")

	viper.SetDefault("logsource.page_size", 100)
	viper.SetDefault("logsource.timeout", "30s")

	viper.SetDefault("webhook.timeout", "15s")

	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.secure", false)

	viper.SetDefault("retention.days", 7)

	// Every five minutes, with a seconds field
	viper.SetDefault("scheduler.cron_spec", "0 */5 * * * *")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.driver", "DB_DRIVER")
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.path", "DB_PATH")

	// Log source
	viper.BindEnv("logsource.base_url", "API_URL_BASE")
	viper.BindEnv("logsource.api_key", "API_KEY")
	viper.BindEnv("logsource.page_size", "LOGS_PER_BATCH")
	viper.BindEnv("logsource.timeout", "LOGS_TIMEOUT")

	// Webhook
	viper.BindEnv("webhook.url", "WEBHOOK")
	viper.BindEnv("webhook.timeout", "WEBHOOK_TIMEOUT")

	// SMTP
	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.secure", "SMTP_SECURE")
	viper.BindEnv("smtp.accounts", "SMTP_ACCOUNTS")
	viper.BindEnv("smtp.fallback_account", "SMTP_FALLBACK_ACCOUNT")

	// Tracking
	viper.BindEnv("tracking.app_origin", "APP_URL_ORIGIN")

	// Retention
	viper.BindEnv("retention.days", "LOG_RETENTION_DAYS")

	// Scheduler
	viper.BindEnv("scheduler.cron_spec", "CRON_SCHEDULE")

	// Auth
	viper.BindEnv("auth.password", "AUTH_PASSWORD")
}

// GetDSN returns the mysql connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// ParseAccounts decodes the SMTP accounts JSON into an address -> password map
func (c *SMTPConfig) ParseAccounts() (map[string]string, error) {
	accounts := make(map[string]string)
	if c.Accounts == "" {
		return accounts, nil
	}
	if err := json.Unmarshal([]byte(c.Accounts), &accounts); err != nil {
		return nil, fmt.Errorf("error parsing SMTP accounts: %w", err)
	}
	return accounts, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required for the mysql driver")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.LogSource.BaseURL == "" {
		return fmt.Errorf("log source base URL is required")
	}

	if c.LogSource.PageSize <= 0 {
		return fmt.Errorf("log source page size must be greater than 0")
	}

	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention days must be greater than 0")
	}

	if _, err := c.SMTP.ParseAccounts(); err != nil {
		return err
	}

	return nil
}
