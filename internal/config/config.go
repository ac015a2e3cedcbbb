package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server" envPrefix:"SERVER_"`
	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
		TTL      string `yaml:"ttl" env:"TTL"`
	} `yaml:"redis" envPrefix:"REDIS_"`
	Postgres struct {
		URL string `yaml:"url" env:"URL"`
	} `yaml:"postgres" envPrefix:"POSTGRES_"`
	Questions struct {
		CacheTTL         string `yaml:"cache_ttl" env:"CACHE_TTL"`
		FetchConcurrency int    `yaml:"fetch_concurrency" env:"FETCH_CONCURRENCY"`
		BankFile         string `yaml:"bank_file" env:"BANK_FILE"`
	} `yaml:"questions" envPrefix:"QUESTIONS_"`
	Session struct {
		GuessThreshold   string  `yaml:"guess_threshold" env:"GUESS_THRESHOLD"`
		PuzzlePassScore  float64 `yaml:"puzzle_pass_score" env:"PUZZLE_PASS_SCORE"`
		SubmitTimeout    string  `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`
		DefaultTimeLimit string  `yaml:"default_time_limit" env:"DEFAULT_TIME_LIMIT"`
		Retention        string  `yaml:"retention" env:"RETENTION"`
	} `yaml:"session" envPrefix:"SESSION_"`
	AMQP struct {
		URL      string `yaml:"url" env:"URL"`
		Exchange string `yaml:"exchange" env:"EXCHANGE"`
	} `yaml:"amqp" envPrefix:"AMQP_"`
	Log struct {
		Level string `yaml:"level" env:"LEVEL"`
	} `yaml:"log" envPrefix:"LOG_"`
}

// Load reads YAML config from path and applies ASSESSMENT_* environment
// overrides. A missing file is not an error; the environment alone is used.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ASSESSMENT_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// LogLevel maps the configured level name to a slog level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}
