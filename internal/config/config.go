// Package config loads and validates notice poller configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPubSub   = "pubsub"
	BackendColly    = "colly"
	BackendChromedp = "chromedp"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Board     BoardConfig     `mapstructure:"board"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Retention RetentionConfig `mapstructure:"retention"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	Port                  int  `mapstructure:"port"`
	RequestTimeoutSeconds int  `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BoardConfig describes the polled notice board and its default query.
type BoardConfig struct {
	URL      string `mapstructure:"url"`
	Count    int    `mapstructure:"count"`
	Category string `mapstructure:"category"`
	Keyword  string `mapstructure:"keyword"`
	TimeZone string `mapstructure:"timezone"`
}

// FetcherConfig selects the fetcher and tunes it and the upstream rate limit.
type FetcherConfig struct {
	Backend            string  `mapstructure:"backend"`
	MaxTabs            int     `mapstructure:"max_tabs"`
	UserAgent          string  `mapstructure:"user_agent"`
	TimeoutSeconds     float64 `mapstructure:"timeout_seconds"`
	InsecureSkipVerify bool    `mapstructure:"insecure_skip_verify"`
	RateLimitRPS       float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// SchedulerConfig sets loop timing and the operating window.
type SchedulerConfig struct {
	PeriodSeconds       int `mapstructure:"period_seconds"`
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`
	MaxRetries          int `mapstructure:"max_retries"`
	DayStartHour        int `mapstructure:"day_start_hour"`
	NightStartHour      int `mapstructure:"night_start_hour"`
	WakeHour            int `mapstructure:"wake_hour"`
	WeekendWakeHour     int `mapstructure:"weekend_wake_hour"`
}

// DatabaseConfig selects and configures the notice store.
type DatabaseConfig struct {
	Backend                string `mapstructure:"backend"`
	DSN                    string `mapstructure:"dsn"`
	Path                   string `mapstructure:"path"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// PublisherConfig controls new-notice announcements.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisURL  string `mapstructure:"redis_url"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Channel   string `mapstructure:"channel"`
}

// RetentionConfig controls the old-notice pruning job.
type RetentionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Days     int    `mapstructure:"days"`
	Lookback int    `mapstructure:"lookback"`
}

// ArchiveConfig controls raw board page snapshots.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. Environment variables use the
// NOTICE_ prefix with dots replaced by underscores, e.g. NOTICE_DATABASE_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("board.url", notice.BoardURL)
	v.SetDefault("board.count", notice.DefaultCount)
	v.SetDefault("board.category", "")
	v.SetDefault("board.keyword", "")
	v.SetDefault("board.timezone", "Asia/Seoul")
	v.SetDefault("fetcher.backend", BackendColly)
	v.SetDefault("fetcher.max_tabs", 2)
	v.SetDefault("fetcher.user_agent", "ajou-noticepoller/1.0")
	v.SetDefault("fetcher.timeout_seconds", 3)
	v.SetDefault("fetcher.insecure_skip_verify", false)
	v.SetDefault("fetcher.rate_limit_rps", 1)
	v.SetDefault("fetcher.rate_limit_burst", 2)
	v.SetDefault("scheduler.period_seconds", 1800)
	v.SetDefault("scheduler.retry_backoff_seconds", 300)
	v.SetDefault("scheduler.max_retries", 0)
	v.SetDefault("scheduler.day_start_hour", 9)
	v.SetDefault("scheduler.night_start_hour", 19)
	v.SetDefault("scheduler.wake_hour", 10)
	v.SetDefault("scheduler.weekend_wake_hour", 9)
	v.SetDefault("database.backend", BackendMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "noticepoller.db")
	v.SetDefault("database.table", "notices")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_seconds", 1800)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("publisher.backend", BackendNone)
	v.SetDefault("publisher.redis_url", "")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "")
	v.SetDefault("publisher.channel", "ajou:notices")
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.schedule", "0 3 * * *")
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.lookback", 7)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.dir", "snapshots")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "board")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Board.Count < 1 || c.Board.Count > 100 {
		return fmt.Errorf("board.count must be between 1 and 100")
	}
	if c.Board.Category != "" {
		if _, ok := notice.CategoryID(c.Board.Category); !ok {
			return fmt.Errorf("board.category %q is not a known category", c.Board.Category)
		}
	}
	if err := c.Fetcher.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Publisher.validate(); err != nil {
		return err
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	if c.Retention.Enabled && (c.Retention.Days <= 0 || c.Retention.Lookback <= 0) {
		return fmt.Errorf("retention.days and retention.lookback must be > 0 when retention is enabled")
	}
	return nil
}

func (f FetcherConfig) validate() error {
	switch f.Backend {
	case BackendColly:
	case BackendChromedp:
		if f.MaxTabs < 0 {
			return fmt.Errorf("fetcher.max_tabs must be >= 0")
		}
	default:
		return fmt.Errorf("fetcher.backend %q is not one of colly, chromedp", f.Backend)
	}
	if f.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if f.RateLimitRPS < 0 {
		return fmt.Errorf("fetcher.rate_limit_rps must be >= 0")
	}
	return nil
}

func (s SchedulerConfig) validate() error {
	if s.PeriodSeconds <= 0 {
		return fmt.Errorf("scheduler.period_seconds must be > 0")
	}
	if s.RetryBackoffSeconds <= 0 {
		return fmt.Errorf("scheduler.retry_backoff_seconds must be > 0")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0")
	}
	if s.DayStartHour < 0 || s.NightStartHour > 24 || s.DayStartHour >= s.NightStartHour {
		return fmt.Errorf("scheduler hours must satisfy 0 <= day_start_hour < night_start_hour <= 24")
	}
	if s.WakeHour < s.DayStartHour || s.WakeHour >= s.NightStartHour {
		return fmt.Errorf("scheduler.wake_hour must fall inside the operating window")
	}
	if s.WeekendWakeHour < 0 || s.WeekendWakeHour > 23 {
		return fmt.Errorf("scheduler.weekend_wake_hour must be between 0 and 23")
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	switch d.Backend {
	case BackendMemory:
	case BackendPostgres:
		if d.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if d.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("database.backend %q is not one of memory, postgres, sqlite", d.Backend)
	}
	return nil
}

func (p PublisherConfig) validate() error {
	switch p.Backend {
	case BackendNone:
		return nil
	case BackendMemory:
	case BackendRedis:
		if p.RedisURL == "" {
			return fmt.Errorf("publisher.redis_url is required for the redis backend")
		}
	case BackendPubSub:
		if p.ProjectID == "" || p.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of none, memory, redis, pubsub", p.Backend)
	}
	if p.Channel == "" {
		return fmt.Errorf("publisher.channel must be set")
	}
	return nil
}

func (a ArchiveConfig) validate() error {
	switch a.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if a.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local backend")
		}
	case BackendGCS:
		if a.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", a.Backend)
	}
	return nil
}

// FetchTimeout returns the per-request fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds * float64(time.Second))
}

// Period returns the rest between successful cycles.
func (c Config) Period() time.Duration {
	return time.Duration(c.Scheduler.PeriodSeconds) * time.Second
}

// RetryBackoff returns the flat wait after a failed extraction.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Scheduler.RetryBackoffSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// MaxConnLifetime returns the postgres pool connection lifetime.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.Database.MaxConnLifetimeSeconds) * time.Second
}
