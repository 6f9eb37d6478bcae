// Package config loads curator settings. CURATOR_* environment variables
// override the YAML file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"curator/internal/dedup"
	"curator/internal/domain"
	"curator/internal/format"
	"curator/internal/scheduler"
)

type Config struct {
	Server       ServerConfig               `mapstructure:"server"`
	Database     DatabaseConfig             `mapstructure:"database"`
	Logging      LoggingConfig              `mapstructure:"logging"`
	Scheduler    scheduler.Config           `mapstructure:"scheduler"`
	Dedup        dedup.Config               `mapstructure:"dedup"`
	Connectors   ConnectorsConfig           `mapstructure:"connectors"`
	Templates    map[string]format.Template `mapstructure:"templates"`
	Destinations []domain.Destination       `mapstructure:"destinations"`
}

type ServerConfig struct {
	Addr  string `mapstructure:"addr"`
	Debug bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type ConnectorsConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	QPS            float64       `mapstructure:"qps"` // per host
	Timeout        time.Duration `mapstructure:"timeout"`
	YouTubeBaseURL string        `mapstructure:"youtube_base_url"`
	RedditBaseURL  string        `mapstructure:"reddit_base_url"`
	Command        CommandConfig `mapstructure:"command"`
	TelegramAPI    string        `mapstructure:"telegram_api"`
}

// CommandConfig enables the command platform when Path is set.
type CommandConfig struct {
	Path    string        `mapstructure:"path"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("database.path", "./data/curator.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)

	v.SetDefault("scheduler.tick", "2s")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.min_interval", "1m")
	v.SetDefault("scheduler.shutdown_timeout", "30s")

	v.SetDefault("dedup.driver", "sqlite")
	v.SetDefault("dedup.retention", "2160h")
	v.SetDefault("dedup.prune_schedule", "@daily")
	v.SetDefault("dedup.redis_addr", "127.0.0.1:6379")
	v.SetDefault("dedup.redis_db", 0)
	v.SetDefault("dedup.key_prefix", "curator")
	v.SetDefault("dedup.postgres_dsn", "")

	v.SetDefault("connectors.user_agent", "curator/1.0")
	v.SetDefault("connectors.qps", 1.0)
	v.SetDefault("connectors.timeout", "30s")
	v.SetDefault("connectors.youtube_base_url", "https://www.youtube.com")
	v.SetDefault("connectors.reddit_base_url", "https://www.reddit.com")
	v.SetDefault("connectors.command.timeout", "1m")
	v.SetDefault("connectors.telegram_api", "")
}

// Load reads path, or curator.yaml from . and ./configs when path is empty.
// A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("curator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Scheduler.Retention = cfg.Dedup.Retention
	cfg.Scheduler.PruneSchedule = cfg.Dedup.PruneSchedule
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.Tick <= 0 {
		errs = append(errs, errors.New("scheduler.tick must be positive"))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, errors.New("scheduler.workers must be at least 1"))
	}
	if c.Scheduler.MinInterval < time.Second {
		errs = append(errs, errors.New("scheduler.min_interval must be at least 1s"))
	}
	switch strings.ToLower(c.Dedup.Driver) {
	case "", "sqlite", "sqlite3", "redis", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("dedup.driver: unknown driver %q", c.Dedup.Driver))
	}
	if c.Dedup.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Dedup.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("dedup.prune_schedule: %w", err))
		}
	}
	for name := range c.Templates {
		if !domain.Platform(strings.ToLower(name)).Valid() {
			errs = append(errs, fmt.Errorf("templates: unknown platform %q", name))
		}
	}

	seen := map[string]bool{}
	for i, d := range c.Destinations {
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("destinations[%d]: id is required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("destinations[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
		switch d.Type {
		case domain.DestinationDiscord, domain.DestinationSlack, domain.DestinationWebhook:
			if d.URL == "" {
				errs = append(errs, fmt.Errorf("destination %s: url is required", d.ID))
			}
		case domain.DestinationTelegram:
			if d.Token == "" || d.ChatID == 0 {
				errs = append(errs, fmt.Errorf("destination %s: token and chat_id are required", d.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("destination %s: unknown type %q", d.ID, d.Type))
		}
	}
	return errors.Join(errs...)
}

// PlatformTemplates converts the configured templates for format.New.
func (c *Config) PlatformTemplates() map[domain.Platform]format.Template {
	out := make(map[domain.Platform]format.Template, len(c.Templates))
	for name, t := range c.Templates {
		out[domain.Platform(strings.ToLower(name))] = t
	}
	return out
}
