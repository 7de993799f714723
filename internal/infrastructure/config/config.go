package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Events        EventsConfig        `mapstructure:"events"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// StorageConfig selects the payment store. "memory" keeps everything in
// process and is meant for local runs.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PaymentConfig struct {
	ProviderTimeout   time.Duration `mapstructure:"provider_timeout"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockDriver        string        `mapstructure:"lock_driver"`
	ReconcileAfter    time.Duration `mapstructure:"reconcile_after"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch    int           `mapstructure:"reconcile_batch"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
}

type ProvidersConfig struct {
	HTTP           HTTPClientConfig     `mapstructure:"http"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Stripe         StripeConfig         `mapstructure:"stripe"`
	PayPal         PayPalConfig         `mapstructure:"paypal"`
	Mock           MockConfig           `mapstructure:"mock"`
}

type HTTPClientConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
}

type CircuitBreakerConfig struct {
	Threshold uint32        `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StripeConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	SecretKey string `mapstructure:"secret_key"`
}

type PayPalConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	ReturnURL    string `mapstructure:"return_url"`
	CancelURL    string `mapstructure:"cancel_url"`
	BrandName    string `mapstructure:"brand_name"`
}

type MockConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Latency     time.Duration `mapstructure:"latency"`
	FailureRate float64       `mapstructure:"failure_rate"`
}

type EventsConfig struct {
	Sink           string        `mapstructure:"sink"`
	Buffer         int           `mapstructure:"buffer"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	RedisStream    string        `mapstructure:"redis_stream"`
	Kafka          KafkaConfig   `mapstructure:"kafka"`
	PubSub         PubSubConfig  `mapstructure:"pubsub"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

type WorkerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxRelay        string        `mapstructure:"outbox_relay"`
	MetricsPort        int           `mapstructure:"metrics_port"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

var (
	storageDrivers = map[string]bool{"postgres": true, "memory": true}
	lockDrivers    = map[string]bool{"memory": true, "redis": true}
	eventSinks     = map[string]bool{"log": true, "redis": true, "kafka": true, "pubsub": true, "outbox": true}
	relayTargets   = map[string]bool{"log": true, "redis": true, "kafka": true, "pubsub": true}
)

// Load reads .env (if present), then config.yaml (if present), then
// PAYMENTS_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payments")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}

	if !storageDrivers[c.Storage.Driver] {
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	if c.Storage.Driver == "postgres" {
		if c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive"))
		}
	}
	if c.usesRedis() && c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	if c.Payment.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.provider_timeout must be positive"))
	}
	if c.Payment.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.lock_ttl must be positive"))
	} else if c.Payment.ProviderTimeout > 0 && c.Payment.LockTTL < 2*c.Payment.ProviderTimeout {
		// A refund may make two provider calls while holding the lock.
		errs = append(errs, fmt.Errorf("payment.lock_ttl (%s) must be at least twice payment.provider_timeout (%s)",
			c.Payment.LockTTL, c.Payment.ProviderTimeout))
	}
	if !lockDrivers[c.Payment.LockDriver] {
		errs = append(errs, fmt.Errorf("payment.lock_driver must be memory or redis, got %q", c.Payment.LockDriver))
	}
	if c.Payment.ReconcileAfter <= 0 {
		errs = append(errs, fmt.Errorf("payment.reconcile_after must be positive"))
	}

	if c.Providers.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("providers.http.timeout must be positive"))
	}
	if c.Providers.HTTP.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("providers.http.max_redirects must not be negative"))
	}
	if c.Providers.Stripe.Enabled {
		if c.Providers.Stripe.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.stripe.base_url is required"))
		}
		if c.Providers.Stripe.SecretKey == "" {
			errs = append(errs, fmt.Errorf("providers.stripe.secret_key is required"))
		}
	}
	if c.Providers.PayPal.Enabled {
		if c.Providers.PayPal.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.paypal.base_url is required"))
		}
		if c.Providers.PayPal.ClientID == "" || c.Providers.PayPal.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("providers.paypal.client_id and client_secret are required"))
		}
	}
	if !c.Providers.Stripe.Enabled && !c.Providers.PayPal.Enabled && !c.Providers.Mock.Enabled {
		errs = append(errs, fmt.Errorf("at least one provider must be enabled"))
	}

	if !eventSinks[c.Events.Sink] {
		errs = append(errs, fmt.Errorf("events.sink must be one of log, redis, kafka, pubsub, outbox, got %q", c.Events.Sink))
	}
	if c.Events.Sink == "outbox" && c.Storage.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("events.sink outbox requires storage.driver postgres"))
	}
	if c.Events.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("events.buffer must be positive"))
	}
	if c.usesSink("kafka") && len(c.Events.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("events.kafka.brokers is required"))
	}
	if c.usesSink("pubsub") && c.Events.PubSub.ProjectID == "" {
		errs = append(errs, fmt.Errorf("events.pubsub.project_id is required"))
	}

	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if !relayTargets[c.Worker.OutboxRelay] {
		errs = append(errs, fmt.Errorf("worker.outbox_relay must be one of log, redis, kafka, pubsub, got %q", c.Worker.OutboxRelay))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Storage.Driver == "postgres" && c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Providers.Mock.Enabled {
			errs = append(errs, fmt.Errorf("providers.mock must be disabled in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

// usesSink reports whether events reach name either directly or through the
// outbox relay.
func (c *Config) usesSink(name string) bool {
	return c.Events.Sink == name || (c.Events.Sink == "outbox" && c.Worker.OutboxRelay == name)
}

func (c *Config) usesRedis() bool {
	return c.Payment.LockDriver == "redis" || c.usesSink("redis")
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payments")
	v.SetDefault("database.database", "payments")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	v.SetDefault("storage.driver", "postgres")

	// Payment defaults
	v.SetDefault("payment.provider_timeout", "30s")
	v.SetDefault("payment.lock_ttl", "60s")
	v.SetDefault("payment.lock_driver", "memory")
	v.SetDefault("payment.reconcile_after", "10m")
	v.SetDefault("payment.reconcile_interval", "1m")
	v.SetDefault("payment.reconcile_batch", 50)
	v.SetDefault("payment.idempotency_ttl", "24h")

	// Provider defaults
	v.SetDefault("providers.http.timeout", "30s")
	v.SetDefault("providers.http.max_redirects", 5)
	v.SetDefault("providers.circuit_breaker.threshold", 10)
	v.SetDefault("providers.circuit_breaker.timeout", "30s")
	v.SetDefault("providers.stripe.base_url", "https://api.stripe.com")
	v.SetDefault("providers.paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("providers.paypal.return_url", "http://localhost:3000/payments/success")
	v.SetDefault("providers.paypal.cancel_url", "http://localhost:3000/payments/cancel")
	v.SetDefault("providers.paypal.brand_name", "PetPro")
	v.SetDefault("providers.mock.enabled", true)
	v.SetDefault("providers.mock.latency", "50ms")
	v.SetDefault("providers.mock.failure_rate", 0.0)

	// Event defaults
	v.SetDefault("events.sink", "log")
	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.publish_timeout", "5s")
	v.SetDefault("events.redis_stream", "payment-events")
	v.SetDefault("events.kafka.topic", "payment-events")
	v.SetDefault("events.pubsub.topic", "payment-events")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.outbox_relay", "log")
	v.SetDefault("worker.metrics_port", 9091)

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.service_name", "booking-payments")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_expiry", "24h")

	v.SetDefault("instance_id", "payments-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the URL form of the DSN, as golang-migrate expects it.
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
