package config

import (
	"strings"

	"github.com/spf13/viper"
)

// StorageConfig selects and configures the key-value store backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string
	// DSN is the Postgres connection string, used when Driver is "postgres".
	DSN string
}

// KafkaConfig holds broker addresses and topic names for the event plane.
type KafkaConfig struct {
	Brokers        []string
	TelemetryTopic string
	UpdatesTopic   string
	GroupID        string
}

// ShareConfig holds share-link settings.
type ShareConfig struct {
	// BaseURL is prepended to the token to form the public share link.
	BaseURL string
	// DefaultTTLMinutes applies when a caller omits or zeroes the expiry.
	DefaultTTLMinutes int
	// SweepSpec is the cron spec for the expired-share sweep.
	SweepSpec string
}

// ServiceConfig holds all configuration for the tracking service.
type ServiceConfig struct {
	Port    string
	AppEnv  string
	Share   ShareConfig
	Storage StorageConfig
	Kafka   KafkaConfig
}

// Load reads configuration from environment variables (TRACKING_ prefix)
// with sensible defaults and returns a ServiceConfig.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("TRACKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", ":8083")
	v.SetDefault("app_env", "development")
	v.SetDefault("share.base_url", "https://bustickets.app/track/")
	v.SetDefault("share.default_ttl_minutes", 60)
	v.SetDefault("share.sweep_spec", "*/15 * * * *")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.telemetry_topic", "bus.telemetry")
	v.SetDefault("kafka.updates_topic", "tracking.updates")
	v.SetDefault("kafka.group_id", "tracking-telemetry-consumer")

	return &ServiceConfig{
		Port:   v.GetString("port"),
		AppEnv: v.GetString("app_env"),
		Share: ShareConfig{
			BaseURL:           v.GetString("share.base_url"),
			DefaultTTLMinutes: v.GetInt("share.default_ttl_minutes"),
			SweepSpec:         v.GetString("share.sweep_spec"),
		},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
			DSN:    v.GetString("storage.dsn"),
		},
		Kafka: KafkaConfig{
			Brokers:        strings.Split(v.GetString("kafka.brokers"), ","),
			TelemetryTopic: v.GetString("kafka.telemetry_topic"),
			UpdatesTopic:   v.GetString("kafka.updates_topic"),
			GroupID:        v.GetString("kafka.group_id"),
		},
	}, nil
}
