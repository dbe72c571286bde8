// Package config содержит логику чтения конфигурации реферальной системы.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisURL    string `env:"REDIS_URL"`
	AuthSecret  string `env:"AUTH_SECRET"`
	AdminLogin  string `env:"ADMIN_LOGIN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	PlacementMaxAttempts int `env:"PLACEMENT_MAX_ATTEMPTS" envDefault:"10"`
	PlacementVisitLimit  int `env:"PLACEMENT_VISIT_LIMIT" envDefault:"100000"`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"20"`
}

// Parse считывает конфигурацию из файла .env, переменных окружения и флагов.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisURL := cfg.RedisURL
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL for shared rate limiting")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth cookies")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisURL != "" {
		cfg.RedisURL = envRedisURL
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PlacementMaxAttempts <= 0 {
		return fmt.Errorf("PLACEMENT_MAX_ATTEMPTS must be positive, got %d", c.PlacementMaxAttempts)
	}
	if c.PlacementVisitLimit <= 0 {
		return fmt.Errorf("PLACEMENT_VISIT_LIMIT must be positive, got %d", c.PlacementVisitLimit)
	}
	if c.RateLimitWindow < 0 || c.RateLimitMax < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	return nil
}

// loadDotEnv подгружает переменные из файла, не перезаписывая уже заданные.
// Отсутствие файла не считается ошибкой.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
