// Package config holds the registration service configuration. Values come
// from defaults, an optional YAML file and REGISTRATION_* environment
// variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rl1809/registration/internal/adapter/storage"
	"github.com/rl1809/registration/internal/adapter/tracing"
)

const EnvPrefix = "REGISTRATION"

type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`
	HTTPAddr    string `mapstructure:"http_addr"`
	GRPCAddr    string `mapstructure:"grpc_addr"`

	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Tracing  tracing.Config `mapstructure:"tracing"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RedisConfig is optional: an empty Addr disables the relay lease and
// consumer dedupe.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type NATSConfig struct {
	URL              string        `mapstructure:"url"`
	Stream           string        `mapstructure:"stream"`
	SubjectPrefix    string        `mapstructure:"subject_prefix"`
	DuplicatesWindow time.Duration `mapstructure:"duplicates_window"`
	PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
}

type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type AuthConfig struct {
	HMACSecret string `mapstructure:"hmac_secret"`
	Issuer     string `mapstructure:"issuer"`
}

// CatalogConfig is optional: an empty BaseURL accepts every well-formed
// isoCategory.
type CatalogConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	PageSize  int           `mapstructure:"page_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

func Defaults() Config {
	tr := tracing.DefaultConfig()
	return Config{
		ServiceName: "registration",
		LogLevel:    "info",
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		Database: DatabaseConfig{
			Driver:          string(storage.DialectMySQL),
			DSN:             "root:root@tcp(localhost:3306)/registration?multiStatements=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
			LeaseTTL: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			Stream:           "REGISTRATION_EVENTS",
			SubjectPrefix:    "registration",
			DuplicatesWindow: 2 * time.Minute,
			PublishTimeout:   5 * time.Second,
		},
		Outbox: OutboxConfig{
			BatchSize:    100,
			PollInterval: time.Second,
			MaxBackoff:   30 * time.Second,
		},
		Auth: AuthConfig{Issuer: "registration"},
		Catalog: CatalogConfig{
			PageSize:  1000,
			CacheTTL:  time.Hour,
			RateLimit: 10,
		},
		Tracing: tr,
	}
}

// SetDefaults registers every default with v. Environment overrides only
// reach Unmarshal for keys viper knows about, so all keys are registered.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("service_name", d.ServiceName)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.migrate_on_start", d.Database.MigrateOnStart)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.lease_ttl", d.Redis.LeaseTTL)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.stream", d.NATS.Stream)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	v.SetDefault("nats.duplicates_window", d.NATS.DuplicatesWindow)
	v.SetDefault("nats.publish_timeout", d.NATS.PublishTimeout)

	v.SetDefault("outbox.batch_size", d.Outbox.BatchSize)
	v.SetDefault("outbox.poll_interval", d.Outbox.PollInterval)
	v.SetDefault("outbox.max_backoff", d.Outbox.MaxBackoff)

	v.SetDefault("auth.hmac_secret", d.Auth.HMACSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)

	v.SetDefault("catalog.base_url", d.Catalog.BaseURL)
	v.SetDefault("catalog.page_size", d.Catalog.PageSize)
	v.SetDefault("catalog.cache_ttl", d.Catalog.CacheTTL)
	v.SetDefault("catalog.rate_limit", d.Catalog.RateLimit)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads configFile (if set) and the environment into a Config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
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
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.ServiceName
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := storage.ParseDialect(c.Database.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Outbox.BatchSize < 0 {
		errs = append(errs, errors.New("outbox.batch_size must not be negative"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate %v outside [0,1]", c.Tracing.SampleRate))
	}
	return errors.Join(errs...)
}

// ValidateServe adds the checks that only matter when serving requests.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Auth.HMACSecret == "" {
		return errors.New("auth.hmac_secret is required")
	}
	return nil
}
