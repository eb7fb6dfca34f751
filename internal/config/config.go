// Package config loads process configuration the way the teacher's
// internal/config does: a YAML file located via a CONFIG_PATH
// environment variable (falling back to a couple of conventional
// paths), parsed with viper and decoded into a typed struct via
// mapstructure tags, with environment variables able to override any
// key.
//
// The teacher's config schema (budget ceilings, circuit breakers,
// gateway auth toggles, workflow synthesis flags, hot-reload via
// fsnotify) covers a much larger product surface than this service
// has; this package keeps the loading idiom and trims the schema down
// to what a single event-replay core actually needs to boot.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of knobs this service reads at startup.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig configures the HTTP/SSE surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// RedisConfig configures the Event Log's Redis Streams backend. Addr
// left empty means "no Redis": the process falls back to the
// in-memory Event Log and Task Registry, which is a supported mode
// for local development and tests, never for production use.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig configures the Task Manager's admission policy.
type WorkerConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// RetentionConfig configures the scheduled cleanup sweep (spec §8).
type RetentionConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `mapstructure:"schedule"`
	// OlderThanDays is how old a terminal task must be before it is
	// purged from the Event Log and Task Registry.
	OlderThanDays int `mapstructure:"older_than_days"`
}

// LoggingConfig configures the zap logger built in cmd/taskstreamd.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

func defaults() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8080"},
		Redis:     RedisConfig{Addr: "", DB: 0},
		Worker:    WorkerConfig{MaxConcurrent: 8},
		Retention: RetentionConfig{Schedule: "0 */6 * * *", OlderThanDays: 7},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from (in order of precedence) environment
// variables, a YAML file, then the built-in defaults. The file path is
// taken from the CONFIG_PATH environment variable; when unset, Load
// tries ./config/taskstream.yaml and /etc/taskstream/config.yaml and
// proceeds on defaults alone if neither exists, matching the teacher's
// "a missing config file is not fatal" behavior.
func Load() (*Config, error) {
	v := viper.New()

	cfg := defaults()
	v.SetConfigType("yaml")
	if err := v.MergeConfigMap(toMap(cfg)); err != nil {
		return nil, fmt.Errorf("config: seeding defaults: %w", err)
	}

	v.SetEnvPrefix("TASKSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := viperConfigPath()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	return &out, nil
}

func toMap(cfg Config) map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"addr": cfg.Server.Addr,
		},
		"redis": map[string]interface{}{
			"addr":     cfg.Redis.Addr,
			"password": cfg.Redis.Password,
			"db":       cfg.Redis.DB,
		},
		"worker": map[string]interface{}{
			"max_concurrent": cfg.Worker.MaxConcurrent,
		},
		"retention": map[string]interface{}{
			"schedule":        cfg.Retention.Schedule,
			"older_than_days": cfg.Retention.OlderThanDays,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
	}
}
