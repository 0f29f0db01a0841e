package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/opd-queue/pkg/clock"
)

// EnvPrefix is the prefix for environment overrides, e.g. OPD_DATABASE_HOST.
const EnvPrefix = "OPD"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" split_words:"true"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	Mode            string        `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" split_words:"true"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" split_words:"true"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" split_words:"true"`
	BoardTTL     time.Duration `mapstructure:"board_ttl" split_words:"true"`
	KeyPrefix    string        `mapstructure:"key_prefix" split_words:"true"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl" split_words:"true"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins" split_words:"true"`
}

type QueueConfig struct {
	Timezone                      string        `mapstructure:"timezone"`
	DefaultAvgConsultationMinutes int           `mapstructure:"default_avg_consultation_minutes" split_words:"true"`
	PollIntervalSeconds           int           `mapstructure:"poll_interval_seconds" split_words:"true"`
	SettingsCacheTTL              time.Duration `mapstructure:"settings_cache_ttl" split_words:"true"`
	PublishTimeout                time.Duration `mapstructure:"publish_timeout" split_words:"true"`
}

type WorkerConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval" split_words:"true"`
	RetryAttempts   int           `mapstructure:"retry_attempts" split_words:"true"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
	// IdleTTL evicts a client's limiter after this long without requests.
	IdleTTL time.Duration `mapstructure:"idle_ttl" split_words:"true"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "opd_queue")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.board_ttl", 36*time.Hour)
	v.SetDefault("redis.key_prefix", "queue")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "opd-queue")
	v.SetDefault("jwt.access_token_ttl", 12*time.Hour)

	v.SetDefault("cors.allow_origins", []string{"*"})

	v.SetDefault("queue.timezone", "UTC")
	v.SetDefault("queue.default_avg_consultation_minutes", 10)
	v.SetDefault("queue.poll_interval_seconds", 15)
	v.SetDefault("queue.settings_cache_ttl", 5*time.Minute)
	v.SetDefault("queue.publish_timeout", 2*time.Second)

	v.SetDefault("worker.refresh_interval", 30*time.Second)
	v.SetDefault("worker.retry_attempts", 3)
	v.SetDefault("worker.retry_delay", time.Second)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.idle_ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "opd_queue")
	v.SetDefault("metrics.path", "/metrics")
}

// LoadConfig reads config.yaml (optional), applies defaults and then
// environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
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

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	var problems []string

	if _, err := clock.LoadLocation(c.Queue.Timezone); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Server.Port <= 0 {
		problems = append(problems, "server.port must be positive")
	}
	if c.Queue.DefaultAvgConsultationMinutes <= 0 {
		problems = append(problems, "queue.default_avg_consultation_minutes must be positive")
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		problems = append(problems, "queue.poll_interval_seconds must be positive")
	}
	if c.Worker.RefreshInterval <= 0 {
		problems = append(problems, "worker.refresh_interval must be positive")
	}
	if c.Worker.RetryAttempts <= 0 {
		problems = append(problems, "worker.retry_attempts must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		problems = append(problems, "rate_limit.rps and rate_limit.burst must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the clinic timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := clock.LoadLocation(c.Queue.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
