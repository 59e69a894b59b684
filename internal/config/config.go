// Package config loads buildify.yaml and BUILDIFY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: BUILDIFY_DATABASE_PATH
// overrides database.path.
const EnvPrefix = "BUILDIFY"

// Config holds the configuration for the engines and the CLI.
type Config struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // text or json
	} `mapstructure:"log"`
	Automation struct {
		RuleTimeout          time.Duration `mapstructure:"rule_timeout"`
		MaxSteps             int           `mapstructure:"max_steps"`
		ScheduledConcurrency int           `mapstructure:"scheduled_concurrency"`
	} `mapstructure:"automation"`
	Actions struct {
		Endpoint struct {
			MaxAttempts    int           `mapstructure:"max_attempts"`
			InitialBackoff time.Duration `mapstructure:"initial_backoff"`
			MaxBackoff     time.Duration `mapstructure:"max_backoff"`
			Timeout        time.Duration `mapstructure:"timeout"`
		} `mapstructure:"endpoint"`
	} `mapstructure:"actions"`
	Notify struct {
		Redis struct {
			Addr        string `mapstructure:"addr"`
			Stream      string `mapstructure:"stream"`
			AuditStream string `mapstructure:"audit_stream"`
		} `mapstructure:"redis"`
	} `mapstructure:"notify"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "buildify.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("automation.rule_timeout", "30s")
	v.SetDefault("automation.max_steps", 100)
	v.SetDefault("automation.scheduled_concurrency", 4)
	v.SetDefault("actions.endpoint.max_attempts", 3)
	v.SetDefault("actions.endpoint.initial_backoff", "200ms")
	v.SetDefault("actions.endpoint.max_backoff", "5s")
	v.SetDefault("actions.endpoint.timeout", "10s")
	v.SetDefault("notify.redis.addr", "")
	v.SetDefault("notify.redis.stream", "buildify:notifications")
	v.SetDefault("notify.redis.audit_stream", "")
	v.SetDefault("metrics.enabled", false)
}

// Load reads the config file at path, or buildify.yaml in the working
// directory and ./config when path is empty. A missing default file is not
// an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("buildify")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in defaults with no file or environment
// applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects values the engines cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Automation.RuleTimeout <= 0 {
		errs = append(errs, errors.New("automation.rule_timeout must be positive"))
	}
	if c.Automation.MaxSteps <= 0 {
		errs = append(errs, errors.New("automation.max_steps must be positive"))
	}
	if c.Automation.ScheduledConcurrency <= 0 {
		errs = append(errs, errors.New("automation.scheduled_concurrency must be positive"))
	}
	if c.Actions.Endpoint.MaxAttempts <= 0 {
		errs = append(errs, errors.New("actions.endpoint.max_attempts must be positive"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
	return l, nil
}
