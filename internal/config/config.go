package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Business  BusinessConfig  `mapstructure:"business"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	WorkerPort     int           `mapstructure:"worker_port"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	PublicBaseURL  string        `mapstructure:"public_base_url"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN is the lib/pq keyword connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL is the form golang-migrate expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type BrokerConfig struct {
	// Driver is "redis", "rabbitmq" or "memory".
	Driver      string `mapstructure:"driver"`
	RabbitURL   string `mapstructure:"rabbit_url"`
	Exchange    string `mapstructure:"exchange"`
	Queue       string `mapstructure:"queue"`
	Channel     string `mapstructure:"channel"`
	ConsumerTag string `mapstructure:"consumer_tag"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type BusinessConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	OpenHour        int           `mapstructure:"open_hour"`
	CloseHour       int           `mapstructure:"close_hour"`
	CodePrefix      string        `mapstructure:"code_prefix"`
	ResponseWindow  time.Duration `mapstructure:"response_window"`
	PayrollParallel int           `mapstructure:"payroll_parallel"`

	location *time.Location
}

// Location is resolved once by Validate.
func (c *BusinessConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
}

type OutboxConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Lease           time.Duration `mapstructure:"lease"`
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
}

type SchedulerConfig struct {
	WeeklyPayments string `mapstructure:"weekly_payments"`
	ResponseSweep  string `mapstructure:"response_sweep"`
	OutboxCleanup  string `mapstructure:"outbox_cleanup"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// AdminAddress receives copies of cancellations and declines.
	AdminAddress string `mapstructure:"admin_address"`
}

type SMSConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Currency  string `mapstructure:"currency"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// secrets are only ever read from the environment.
type secrets struct {
	StripeSecretKey  string `envconfig:"STRIPE_SECRET_KEY"`
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	DBPassword       string `envconfig:"DB_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_port", 8081)
	v.SetDefault("server.timeout_seconds", 15)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("broker.driver", "redis")
	v.SetDefault("broker.exchange", "booking.events")
	v.SetDefault("broker.queue", "booking.notifications")
	v.SetDefault("broker.channel", "booking-notifications")
	v.SetDefault("broker.consumer_tag", "notification-worker")

	v.SetDefault("jwt.issuer", "massage-booking")

	v.SetDefault("business.timezone", "Australia/Brisbane")
	v.SetDefault("business.open_hour", 9)
	v.SetDefault("business.close_hour", 18)
	v.SetDefault("business.code_prefix", "RB")
	v.SetDefault("business.response_window", 2*time.Hour)
	v.SetDefault("business.payroll_parallel", 4)

	v.SetDefault("rate_limit.requests_per_second", 2)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.idle_ttl", 10*time.Minute)

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.lease", time.Minute)
	v.SetDefault("outbox.retention_period", 7*24*time.Hour)

	v.SetDefault("scheduler.weekly_payments", "0 2 * * 1")
	v.SetDefault("scheduler.response_sweep", "*/5 * * * *")
	v.SetDefault("scheduler.outbox_cleanup", "30 3 * * *")

	v.SetDefault("email.port", 587)
	v.SetDefault("stripe.currency", "aud")
	v.SetDefault("tracing.service_name", "massage-booking")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("cache.ttl", 5*time.Minute)
}

// Load reads .env (if any), config.yml and the environment, in that order
// of increasing precedence.
func Load() (*Config, error) {
	// a missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

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

	var sec secrets
	if err := envconfig.Process("", &sec); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}
	cfg.applySecrets(sec)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s secrets) {
	overlay := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	overlay(&c.Stripe.SecretKey, s.StripeSecretKey)
	overlay(&c.SMS.AccountSID, s.TwilioAccountSID)
	overlay(&c.SMS.AuthToken, s.TwilioAuthToken)
	overlay(&c.Email.Password, s.SMTPPassword)
	overlay(&c.JWT.Secret, s.JWTSecret)
	overlay(&c.Database.Password, s.DBPassword)
}

// Validate fails fast on settings the booking rules cannot run without.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Business.Timezone)
	if err != nil {
		return fmt.Errorf("invalid business.timezone %q: %w", c.Business.Timezone, err)
	}
	c.Business.location = loc

	b := c.Business
	if b.OpenHour < 0 || b.OpenHour > 23 || b.CloseHour < 1 || b.CloseHour > 24 || b.OpenHour >= b.CloseHour {
		return fmt.Errorf("invalid business hours %d-%d", b.OpenHour, b.CloseHour)
	}
	switch c.Broker.Driver {
	case "redis", "rabbitmq", "memory":
	default:
		return fmt.Errorf("unknown broker.driver %q", c.Broker.Driver)
	}
	if c.Broker.Driver == "rabbitmq" && c.Broker.RabbitURL == "" {
		return errors.New("broker.rabbit_url is required for the rabbitmq driver")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit.requests_per_second and rate_limit.burst must be positive")
	}
	return nil
}
