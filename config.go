package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	Blog struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
	} `yaml:"blog"`

	Session struct {
		Key    string        `yaml:"key"`
		Secret string        `yaml:"secret"`
		MaxAge time.Duration `yaml:"max_age"`
		Secure bool          `yaml:"secure"`
	} `yaml:"session"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Uploads struct {
		Dir string `yaml:"dir"`
	} `yaml:"uploads"`

	Log struct {
		Level     string        `yaml:"level"`
		SlowQuery time.Duration `yaml:"slow_query"`
	} `yaml:"log"`
}

// loadConfig reads <dir>/default.yaml, merges <dir>/<APP_ENV>.yaml over it
// and finally applies environment overrides. A .env file, if present, is
// loaded into the environment first.
func loadConfig(dir string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := mergeConfigFile(cfg, filepath.Join(dir, "default.yaml"), true); err != nil {
		return nil, err
	}

	if env := os.Getenv("APP_ENV"); env != "" && env != "default" {
		if err := mergeConfigFile(cfg, filepath.Join(dir, env+".yaml"), false); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.Session.Secret == "" {
		return nil, errors.New("session secret is not configured")
	}
	return cfg, nil
}

func mergeConfigFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	// Keys missing from the file keep their current values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Session.Key = getEnv("SESSION_KEY", cfg.Session.Key)
	cfg.Session.Secret = getEnv("SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.MaxAge = getEnvAsDuration("SESSION_MAX_AGE", cfg.Session.MaxAge)
	cfg.Session.Secure = getEnvAsBool("SECURE_COOKIES", cfg.Session.Secure)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Uploads.Dir = getEnv("UPLOAD_DIR", cfg.Uploads.Dir)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
