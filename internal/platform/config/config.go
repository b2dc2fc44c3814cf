package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultMigrationsDir   = "migrations"

	defaultCarrierTimeout = 15 * time.Second

	defaultNotifyExchange  = "orders.notifications"
	defaultNotifyQueueSize = 256

	defaultWebhookDedupTTL  = 72 * time.Hour
	defaultActorHeader      = "X-Actor-Id"
	defaultCarrierSigHeader = "X-Carrier-Signature"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Postgres      PostgresConfig
	Stripe        StripeConfig
	Carrier       CarrierConfig
	Notifications NotificationConfig
	Webhooks      WebhookConfig
	CORS          CORSConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	ActorHeader     string
}

// PostgresConfig stores the relational store connection parameters.
type PostgresConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MigrationsDir string
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// StripeConfig collects payment provider credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// CarrierConfig configures the shipping provider adapter.
type CarrierConfig struct {
	BaseURL         string
	APIKey          string
	WebhookSecret   string
	SignatureHeader string
	Timeout         time.Duration
}

// NotificationConfig configures the transactional notification dispatcher.
type NotificationConfig struct {
	AMQPURL   string
	Exchange  string
	QueueSize int
}

// WebhookConfig controls webhook ingestion behaviour.
type WebhookConfig struct {
	DedupTTL time.Duration
}

// CORSConfig lists allowed cross-origin parameters for the admin UI.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// Load reads configuration from the environment, optionally seeded from a
// .env file. Unset values fall back to documented defaults.
func Load() (Config, error) {
	// Missing .env is fine in deployed environments.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			ActorHeader:     v.GetString("server.actor_header"),
		},
		Postgres: PostgresConfig{
			Host:          v.GetString("postgres.host"),
			Port:          v.GetInt("postgres.port"),
			User:          v.GetString("postgres.user"),
			Password:      v.GetString("postgres.password"),
			Database:      v.GetString("postgres.db"),
			SSLMode:       v.GetString("postgres.sslmode"),
			MigrationsDir: v.GetString("postgres.migrations_dir"),
		},
		Stripe: StripeConfig{
			APIKey:        v.GetString("stripe.api_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
		},
		Carrier: CarrierConfig{
			BaseURL:         v.GetString("carrier.base_url"),
			APIKey:          v.GetString("carrier.api_key"),
			WebhookSecret:   v.GetString("carrier.webhook_secret"),
			SignatureHeader: v.GetString("carrier.signature_header"),
			Timeout:         v.GetDuration("carrier.timeout"),
		},
		Notifications: NotificationConfig{
			AMQPURL:   v.GetString("notifications.amqp_url"),
			Exchange:  v.GetString("notifications.exchange"),
			QueueSize: v.GetInt("notifications.queue_size"),
		},
		Webhooks: WebhookConfig{
			DedupTTL: v.GetDuration("webhooks.dedup_ttl"),
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetStringSlice("cors.allowed_origins"),
			AllowedMethods: v.GetStringSlice("cors.allowed_methods"),
			AllowedHeaders: v.GetStringSlice("cors.allowed_headers"),
			MaxAge:         v.GetInt("cors.max_age"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.actor_header", defaultActorHeader)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", defaultPostgresPort)
	v.SetDefault("postgres.user", "orders")
	v.SetDefault("postgres.db", "orders")
	v.SetDefault("postgres.sslmode", defaultPostgresSSLMode)
	v.SetDefault("postgres.migrations_dir", defaultMigrationsDir)

	v.SetDefault("carrier.signature_header", defaultCarrierSigHeader)
	v.SetDefault("carrier.timeout", defaultCarrierTimeout)

	v.SetDefault("notifications.exchange", defaultNotifyExchange)
	v.SetDefault("notifications.queue_size", defaultNotifyQueueSize)

	v.SetDefault("webhooks.dedup_ttl", defaultWebhookDedupTTL)

	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Content-Type", defaultActorHeader})
	v.SetDefault("cors.max_age", 300)
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return fmt.Errorf("config: server port is required")
	}
	if c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("config: notification queue size must be positive")
	}
	if c.Webhooks.DedupTTL <= 0 {
		return fmt.Errorf("config: webhook dedup ttl must be positive")
	}
	return nil
}
