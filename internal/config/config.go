package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the engagement server
type Config struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Server        ServerConfig
	Session       SessionConfig
	Logging       LoggingConfig
	Telemetry     TelemetryConfig
	RateLimit     RateLimitConfig
	Comments      CommentsConfig
	Notifications NotificationsConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL     string
	Enabled bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SessionConfig holds the cookie session settings shared with the auth service
type SessionConfig struct {
	Name   string
	Secret string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	ServiceName       string
}

// Policy is a limit/window pair for one rate limited action.
type Policy struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	Backend       string // "memory" or "redis"
	Shards        int
	ShardCapacity int
	SweepInterval time.Duration
	Policies      map[string]Policy
}

// Policy returns the configured policy for action, then the built-in default.
// ok is false only for actions that have neither.
func (c RateLimitConfig) Policy(action string) (Policy, bool) {
	if p, ok := c.Policies[action]; ok {
		return p, true
	}
	p, ok := defaultPolicies[action]
	return p, ok
}

// CommentsConfig holds comment tree limits
type CommentsConfig struct {
	MaxDepth  int
	MaxLength int
}

// NotificationsConfig holds fan-out and dispatcher settings
type NotificationsConfig struct {
	BatchSize   int
	QueueSize   int
	Workers     int
	TaskTimeout time.Duration
}

// Rate limited actions.
const (
	ActionRegister = "register"
	ActionPost     = "post"
	ActionComment  = "comment"
	ActionView     = "view"
	ActionOGImage  = "og_image"
	ActionVote     = "vote"
	ActionReact    = "react"
)

var defaultPolicies = map[string]Policy{
	ActionRegister: {Limit: 5, Window: 60 * time.Second},
	ActionPost:     {Limit: 10, Window: 60 * time.Second},
	ActionComment:  {Limit: 20, Window: 60 * time.Second},
	ActionView:     {Limit: 1, Window: 300 * time.Second},
	ActionOGImage:  {Limit: 60, Window: 60 * time.Second},
	ActionVote:     {Limit: 60, Window: 60 * time.Second},
	ActionReact:    {Limit: 60, Window: 60 * time.Second},
}

// Load loads configuration from environment variables and an optional config file
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUORUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/quorum")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:          v.GetString("database.url"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
			AutoMigrate:  v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			URL:     v.GetString("redis.url"),
			Enabled: v.GetString("redis.url") != "",
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		},
		Session: SessionConfig{
			Name:   v.GetString("session.name"),
			Secret: v.GetString("session.secret"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			JaegerURL:         v.GetString("telemetry.jaeger_url"),
			PrometheusEnabled: v.GetBool("telemetry.prometheus_enabled"),
			ServiceName:       v.GetString("telemetry.service_name"),
		},
		RateLimit: RateLimitConfig{
			Backend:       v.GetString("ratelimit.backend"),
			Shards:        v.GetInt("ratelimit.shards"),
			ShardCapacity: v.GetInt("ratelimit.shard_capacity"),
			SweepInterval: v.GetDuration("ratelimit.sweep_interval"),
			Policies:      loadPolicies(v),
		},
		Comments: CommentsConfig{
			MaxDepth:  v.GetInt("comments.max_depth"),
			MaxLength: v.GetInt("comments.max_length"),
		},
		Notifications: NotificationsConfig{
			BatchSize:   v.GetInt("notifications.batch_size"),
			QueueSize:   v.GetInt("notifications.queue_size"),
			Workers:     v.GetInt("notifications.workers"),
			TaskTimeout: v.GetDuration("notifications.task_timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "host=localhost user=postgres password=postgres dbname=quorum port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("session.name", "quorum_session")
	v.SetDefault("session.secret", "secret_key_change_me")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.jaeger_url", "")
	v.SetDefault("telemetry.prometheus_enabled", true)
	v.SetDefault("telemetry.service_name", "quorum")
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.shards", 32)
	v.SetDefault("ratelimit.shard_capacity", 4096)
	v.SetDefault("ratelimit.sweep_interval", time.Minute)
	v.SetDefault("comments.max_depth", 3)
	v.SetDefault("comments.max_length", 2000)
	v.SetDefault("notifications.batch_size", 500)
	v.SetDefault("notifications.queue_size", 1000)
	v.SetDefault("notifications.workers", 4)
	v.SetDefault("notifications.task_timeout", 2*time.Minute)

	for action, p := range defaultPolicies {
		v.SetDefault("ratelimit.policies."+action+".limit", p.Limit)
		v.SetDefault("ratelimit.policies."+action+".window", p.Window)
	}
}

func loadPolicies(v *viper.Viper) map[string]Policy {
	policies := make(map[string]Policy, len(defaultPolicies))
	for action := range defaultPolicies {
		policies[action] = Policy{
			Limit:  v.GetInt("ratelimit.policies." + action + ".limit"),
			Window: v.GetDuration("ratelimit.policies." + action + ".window"),
		}
	}
	return policies
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("ratelimit.backend=redis requires redis.url")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Shards <= 0 || c.RateLimit.Shards > 1024 {
		return fmt.Errorf("ratelimit.shards must be between 1 and 1024")
	}
	if c.RateLimit.ShardCapacity <= 0 {
		return fmt.Errorf("ratelimit.shard_capacity must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("ratelimit.sweep_interval must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	for action, p := range c.RateLimit.Policies {
		if p.Limit <= 0 || p.Window <= 0 {
			return fmt.Errorf("ratelimit.policies.%s needs a positive limit and window", action)
		}
	}
	if c.Comments.MaxDepth < 1 || c.Comments.MaxDepth > 16 {
		return fmt.Errorf("comments.max_depth must be between 1 and 16")
	}
	if c.Comments.MaxLength <= 0 {
		return fmt.Errorf("comments.max_length must be positive")
	}
	if c.Notifications.BatchSize <= 0 || c.Notifications.BatchSize > 5000 {
		return fmt.Errorf("notifications.batch_size must be between 1 and 5000")
	}
	if c.Notifications.Workers <= 0 || c.Notifications.Workers > 64 {
		return fmt.Errorf("notifications.workers must be between 1 and 64")
	}
	if c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("notifications.queue_size must be positive")
	}
	return nil
}
