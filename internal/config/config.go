// Package config loads service configuration from defaults, an optional
// YAML file, .env files and SAFESPACES_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/safespaces/internal/observability"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// SAFESPACES_HTTP_ADDR for http.addr.
const EnvPrefix = "SAFESPACES"

// Notification backends.
const (
	BackendLog     = "log"
	BackendSNS     = "sns"
	BackendNATS    = "nats"
	BackendWebhook = "webhook"
)

// Config is the full service configuration.
type Config struct {
	Person    PersonConfig                `mapstructure:"person"`
	Log       LogConfig                   `mapstructure:"log"`
	HTTP      HTTPConfig                  `mapstructure:"http"`
	Metrics   MetricsConfig               `mapstructure:"metrics"`
	Tracing   observability.TracingConfig `mapstructure:"tracing"`
	Store     StoreConfig                 `mapstructure:"store"`
	Scheduler SchedulerConfig             `mapstructure:"scheduler"`
	Notify    NotifyConfig                `mapstructure:"notify"`
	Location  LocationConfig              `mapstructure:"location"`
}

// PersonConfig seeds the monitored person when the store has no profile.
type PersonConfig struct {
	Name  string `mapstructure:"name"`
	Phone string `mapstructure:"phone"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus listener. An empty Addr serves
// /metrics on the API listener instead.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type SchedulerConfig struct {
	// Timezone is an IANA zone name; empty means the host zone.
	Timezone string `mapstructure:"timezone"`
}

type NotifyConfig struct {
	Backend           string        `mapstructure:"backend"`
	Title             string        `mapstructure:"title"`
	QueueSize         int           `mapstructure:"queue_size"`
	Workers           int           `mapstructure:"workers"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	Burst             int           `mapstructure:"burst"`
	EndpointCacheSize int           `mapstructure:"endpoint_cache_size"`
	FeedSize          int           `mapstructure:"feed_size"`
	SNS               SNSConfig     `mapstructure:"sns"`
	NATS              NATSConfig    `mapstructure:"nats"`
	Webhook           WebhookConfig `mapstructure:"webhook"`
}

type SNSConfig struct {
	Region                 string `mapstructure:"region"`
	PlatformApplicationARN string `mapstructure:"platform_application_arn"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LocationConfig struct {
	// MaxFixAge after which a fix counts as unavailable; zero disables.
	MaxFixAge time.Duration `mapstructure:"max_fix_age"`
}

// SetDefaults registers every key with its default so that environment
// overrides are honoured by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("person.name", "Me")
	v.SetDefault("person.phone", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "safespaces")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("store.path", "safespaces.db")
	v.SetDefault("scheduler.timezone", "")

	v.SetDefault("notify.backend", BackendLog)
	v.SetDefault("notify.title", "Safe Spaces")
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.rate_per_second", 10.0)
	v.SetDefault("notify.burst", 5)
	v.SetDefault("notify.endpoint_cache_size", 256)
	v.SetDefault("notify.feed_size", 100)
	v.SetDefault("notify.sns.region", "")
	v.SetDefault("notify.sns.platform_application_arn", "")
	v.SetDefault("notify.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notify.nats.subject", "safespaces.notifications")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.secret", "")
	v.SetDefault("notify.webhook.timeout", 5*time.Second)

	v.SetDefault("location.max_fix_age", 10*time.Minute)
}

// Load reads configuration into a Config. dotenv files are loaded first and
// never override variables already set in the environment; missing files
// are ignored. configFile may be empty.
func Load(v *viper.Viper, configFile string, dotenvFiles ...string) (Config, error) {
	for _, f := range dotenvFiles {
		_ = godotenv.Load(f)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Notify.Backend = strings.ToLower(strings.TrimSpace(cfg.Notify.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Notify.QueueSize <= 0 {
		errs = append(errs, errors.New("notify.queue_size must be positive"))
	}
	if c.Notify.Workers <= 0 {
		errs = append(errs, errors.New("notify.workers must be positive"))
	}
	if c.Location.MaxFixAge < 0 {
		errs = append(errs, errors.New("location.max_fix_age must not be negative"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0,1]"))
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	switch c.Notify.Backend {
	case BackendLog:
	case BackendSNS:
		if c.Notify.SNS.PlatformApplicationARN == "" {
			errs = append(errs, errors.New("notify.sns.platform_application_arn is required for the sns backend"))
		}
	case BackendNATS:
		if c.Notify.NATS.URL == "" || c.Notify.NATS.Subject == "" {
			errs = append(errs, errors.New("notify.nats.url and notify.nats.subject are required for the nats backend"))
		}
	case BackendWebhook:
		if c.Notify.Webhook.URL == "" {
			errs = append(errs, errors.New("notify.webhook.url is required for the webhook backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.backend %q is not one of log, sns, nats, webhook", c.Notify.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SchedulerLocation returns the configured scheduler time zone, or nil for
// the host zone.
func (c Config) SchedulerLocation() *time.Location {
	if c.Scheduler.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil
	}
	return loc
}
