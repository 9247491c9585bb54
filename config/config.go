/*
Package config loads the server configuration.

PURPOSE:
  One Config struct for every tunable the server wires: HTTP port and CORS,
  the SQLite path, logging, scoring constants, the discipline policy and
  the recompute scheduler.

PRECEDENCE:
  Environment (APPRAISAL_ prefix, dots become underscores)
    > config file (YAML)
    > defaults below

  APPRAISAL_SCORING_CALL_TIMEOUT=2s overrides scoring.call_timeout.

SEE ALSO:
  - cmd/server/main.go: Wiring
  - scoring/pipeline.go: Scoring config it feeds
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/appraisal-engine/scoring"
)

// Config is the full server configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Log        LogConfig        `mapstructure:"log"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig points at the SQLite file. ":memory:" keeps everything in
// process.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ScoringConfig struct {
	LearningTargetMinutes int           `mapstructure:"learning_target_minutes"`
	DisciplineFallback    string        `mapstructure:"discipline_fallback"`
	CallTimeout           time.Duration `mapstructure:"call_timeout"`
	BatchWorkers          int           `mapstructure:"batch_workers"`
	BatchRetries          int           `mapstructure:"batch_retries"`
	BatchBackoff          time.Duration `mapstructure:"batch_backoff"`
}

// AttendanceConfig holds the discipline policy as a JSON document, e.g.
// {"type":"weighted","office_weight":0.7,"meeting_weight":0.3}.
type AttendanceConfig struct {
	Policy string `mapstructure:"policy"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from path (or ./config.yaml, ./config/config.yaml
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("APPRAISAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := scoring.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("db.path", "./data/appraisal.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scoring.learning_target_minutes", d.LearningTargetMinutes)
	v.SetDefault("scoring.discipline_fallback", d.DisciplineFallback.String())
	v.SetDefault("scoring.call_timeout", d.CallTimeout)
	v.SetDefault("scoring.batch_workers", d.BatchWorkers)
	v.SetDefault("scoring.batch_retries", d.BatchRetries)
	v.SetDefault("scoring.batch_backoff", d.BatchBackoff)

	v.SetDefault("attendance.policy", `{"type":"weighted","office_weight":0.7,"meeting_weight":0.3}`)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("invalid config: db.path is required")
	}
	if c.Scoring.LearningTargetMinutes <= 0 {
		return fmt.Errorf("invalid config: scoring.learning_target_minutes must be positive")
	}
	fallback, err := decimal.NewFromString(c.Scoring.DisciplineFallback)
	if err != nil {
		return fmt.Errorf("invalid config: scoring.discipline_fallback: %w", err)
	}
	if fallback.IsNegative() || fallback.GreaterThan(decimal.NewFromInt(10)) {
		return fmt.Errorf("invalid config: scoring.discipline_fallback must be within [0, 10]")
	}
	if c.Scoring.CallTimeout <= 0 {
		return fmt.Errorf("invalid config: scoring.call_timeout must be positive")
	}
	if c.Scoring.BatchWorkers < 1 {
		return fmt.Errorf("invalid config: scoring.batch_workers must be at least 1")
	}
	if c.Scoring.BatchRetries < 0 {
		return fmt.Errorf("invalid config: scoring.batch_retries cannot be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("invalid config: scheduler.interval must be positive")
	}
	return nil
}

// ScoringPipeline converts the scoring section into a scoring.Config.
// Call after Validate.
func (c *Config) ScoringPipeline() scoring.Config {
	return scoring.Config{
		LearningTargetMinutes: c.Scoring.LearningTargetMinutes,
		DisciplineFallback:    decimal.RequireFromString(c.Scoring.DisciplineFallback),
		CallTimeout:           c.Scoring.CallTimeout,
		BatchWorkers:          c.Scoring.BatchWorkers,
		BatchRetries:          c.Scoring.BatchRetries,
		BatchBackoff:          c.Scoring.BatchBackoff,
	}
}
