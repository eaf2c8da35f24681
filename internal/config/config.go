package config

import (
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Catalog    CatalogConfig
	Sync       SyncConfig
	Queue      QueueConfig
	Snapshot   SnapshotConfig
	SMTP       SMTPConfig
	Storefront StorefrontConfig
}

type ServerConfig struct {
	Port     string `validate:"required"`
	Env      string `validate:"oneof=development production test"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// RequestsPerMinute caps ops API calls per client when Redis is configured
	RequestsPerMinute int `validate:"gte=1"`
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required"`
	User     string
	Password string
	Database string
	Schema   string
}

// DSN builds the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host was configured
func (r RedisConfig) Enabled() bool { return r.Host != "" }

// Addr returns host:port
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// CatalogConfig describes the vendor feed and its column layout
type CatalogConfig struct {
	URL               string
	Username          string
	Password          string
	Format            string `validate:"oneof=csv html"`
	KeyColumn         string `validate:"required"`
	PriceColumn       string `validate:"required"`
	StockColumn       string `validate:"required"`
	DescriptionColumn string
	Timeout           time.Duration `validate:"gt=0"`
}

// SyncConfig holds validation, change detection and discontinuation thresholds
type SyncConfig struct {
	ZeroPriceWarning      bool
	MaxZeroStockPct       float64 `validate:"gte=0,lte=100"`
	MaxCountDeltaPct      float64 `validate:"gte=0"`
	DiscontinuedWindow    int     `validate:"gte=1"`
	DiscontinuedThreshold int     `validate:"gte=1"`
	PricePrecision        int32   `validate:"gte=0,lte=8"`
	AlertRecipient        string
}

// QueueConfig holds the consumer-side rate limiting and retry knobs
type QueueConfig struct {
	BatchSize    int           `validate:"gte=1"`
	BatchDelay   time.Duration `validate:"gte=0"`
	MaxAttempts  int           `validate:"gte=1"`
	Workers      int           `validate:"gte=1"`
	StaleAfter   time.Duration `validate:"gt=0"`
	PollInterval time.Duration `validate:"gt=0"`
}

type SnapshotConfig struct {
	Dir           string `validate:"required"`
	RetentionDays int    `validate:"gte=0"`
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Enabled reports whether outgoing mail is configured
func (s SMTPConfig) Enabled() bool { return s.Host != "" }

type StorefrontConfig struct {
	URL     string
	Token   string
	Timeout time.Duration `validate:"gt=0"`
}

var validate = validator.New()

// Validate checks the loaded configuration against its struct tags
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_REQUESTS_PER_MINUTE", 120)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CATALOG_FORMAT", "csv")
	v.SetDefault("CATALOG_KEY_COLUMN", "REFERENCIA")
	v.SetDefault("CATALOG_PRICE_COLUMN", "PRECIO")
	v.SetDefault("CATALOG_STOCK_COLUMN", "STOCK")
	v.SetDefault("CATALOG_DESCRIPTION_COLUMN", "DESCRIPCION")
	v.SetDefault("CATALOG_TIMEOUT", "60s")

	v.SetDefault("SYNC_ZERO_PRICE_WARNING", true)
	v.SetDefault("SYNC_MAX_ZERO_STOCK_PCT", 40.0)
	v.SetDefault("SYNC_MAX_COUNT_DELTA_PCT", 10.0)
	v.SetDefault("SYNC_DISCONTINUED_WINDOW", 4)
	v.SetDefault("SYNC_DISCONTINUED_THRESHOLD", 3)
	v.SetDefault("SYNC_PRICE_PRECISION", 2)

	v.SetDefault("QUEUE_BATCH_SIZE", 100)
	v.SetDefault("QUEUE_BATCH_DELAY", "1s")
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 5)
	v.SetDefault("QUEUE_WORKERS", 4)
	v.SetDefault("QUEUE_STALE_AFTER", "15m")
	v.SetDefault("QUEUE_POLL_INTERVAL", "1m")

	v.SetDefault("SNAPSHOT_DIR", "data")
	v.SetDefault("SNAPSHOT_RETENTION_DAYS", 30)

	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("STOREFRONT_TIMEOUT", "30s")
}

// Load reads configuration from .env and the environment
func Load() *Config {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:     v.GetString("SERVER_PORT"),
			Env:      v.GetString("SERVER_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),

			RequestsPerMinute: v.GetInt("SERVER_REQUESTS_PER_MINUTE"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_DATABASE"),
			Schema:   v.GetString("DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Catalog: CatalogConfig{
			URL:               v.GetString("CATALOG_URL"),
			Username:          v.GetString("CATALOG_USERNAME"),
			Password:          v.GetString("CATALOG_PASSWORD"),
			Format:            v.GetString("CATALOG_FORMAT"),
			KeyColumn:         v.GetString("CATALOG_KEY_COLUMN"),
			PriceColumn:       v.GetString("CATALOG_PRICE_COLUMN"),
			StockColumn:       v.GetString("CATALOG_STOCK_COLUMN"),
			DescriptionColumn: v.GetString("CATALOG_DESCRIPTION_COLUMN"),
			Timeout:           v.GetDuration("CATALOG_TIMEOUT"),
		},
		Sync: SyncConfig{
			ZeroPriceWarning:      v.GetBool("SYNC_ZERO_PRICE_WARNING"),
			MaxZeroStockPct:       v.GetFloat64("SYNC_MAX_ZERO_STOCK_PCT"),
			MaxCountDeltaPct:      v.GetFloat64("SYNC_MAX_COUNT_DELTA_PCT"),
			DiscontinuedWindow:    v.GetInt("SYNC_DISCONTINUED_WINDOW"),
			DiscontinuedThreshold: v.GetInt("SYNC_DISCONTINUED_THRESHOLD"),
			PricePrecision:        v.GetInt32("SYNC_PRICE_PRECISION"),
			AlertRecipient:        v.GetString("ALERT_EMAIL_RECIPIENT"),
		},
		Queue: QueueConfig{
			BatchSize:    v.GetInt("QUEUE_BATCH_SIZE"),
			BatchDelay:   v.GetDuration("QUEUE_BATCH_DELAY"),
			MaxAttempts:  v.GetInt("QUEUE_MAX_ATTEMPTS"),
			Workers:      v.GetInt("QUEUE_WORKERS"),
			StaleAfter:   v.GetDuration("QUEUE_STALE_AFTER"),
			PollInterval: v.GetDuration("QUEUE_POLL_INTERVAL"),
		},
		Snapshot: SnapshotConfig{
			Dir:           v.GetString("SNAPSHOT_DIR"),
			RetentionDays: v.GetInt("SNAPSHOT_RETENTION_DAYS"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			User:     v.GetString("SMTP_USER"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		Storefront: StorefrontConfig{
			URL:     v.GetString("STOREFRONT_URL"),
			Token:   v.GetString("STOREFRONT_TOKEN"),
			Timeout: v.GetDuration("STOREFRONT_TIMEOUT"),
		},
	}
}
