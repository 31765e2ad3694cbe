package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Object store (S3-compatible). Credentials come from the ambient AWS
	// environment; only bucket layout and endpoint are configured here.
	StorageBucket       string `mapstructure:"STORAGE_BUCKET" validate:"required"`
	StorageRegion       string `mapstructure:"STORAGE_REGION"`
	StorageEndpoint     string `mapstructure:"STORAGE_ENDPOINT"`
	StorageUploadPrefix string `mapstructure:"STORAGE_UPLOAD_PREFIX"`
	SignedURLTTLSeconds int    `mapstructure:"SIGNED_URL_TTL_SECONDS"`

	// Streaming service
	StreamingAPIBaseURL     string `mapstructure:"STREAMING_API_BASE_URL" validate:"required"`
	StreamingAPIToken       string `mapstructure:"STREAMING_API_TOKEN"`
	StreamingDeliveryHost   string `mapstructure:"STREAMING_DELIVERY_HOST" validate:"required"`
	StreamingWebhookSecret  string `mapstructure:"STREAMING_WEBHOOK_SECRET" validate:"required"`
	WebhookToleranceSeconds int    `mapstructure:"WEBHOOK_TOLERANCE_SECONDS"`

	// Reconciler
	SyncWorkers         int `mapstructure:"SYNC_WORKERS"`
	SyncIntervalSeconds int `mapstructure:"SYNC_INTERVAL_SECONDS"`
	SyncBatchLimit      int `mapstructure:"SYNC_BATCH_LIMIT"`
}

// SignedURLTTL returns the configured signed-URL lifetime.
func (c Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

// WebhookTolerance returns the replay-rejection window for webhook timestamps.
func (c Config) WebhookTolerance() time.Duration {
	return time.Duration(c.WebhookToleranceSeconds) * time.Second
}

// SyncInterval returns the scheduled reconciliation interval; zero disables it.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && tag == "" {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("STORAGE_UPLOAD_PREFIX", "uploads/")
	viper.SetDefault("SIGNED_URL_TTL_SECONDS", 900)
	viper.SetDefault("WEBHOOK_TOLERANCE_SECONDS", 300)
	viper.SetDefault("SYNC_WORKERS", 4)
	viper.SetDefault("SYNC_BATCH_LIMIT", 500)

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets and DSNs stay out of the log line.
	slog.Info("Loaded configuration",
		"webserver_port", cfg.WebServerPort,
		"storage_bucket", cfg.StorageBucket,
		"streaming_api", cfg.StreamingAPIBaseURL,
		"delivery_host", cfg.StreamingDeliveryHost,
		"sync_workers", cfg.SyncWorkers,
	)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
