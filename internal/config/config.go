package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const codeAlphabetDefault = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	CodeTTLSeconds     int    `env:"CODE_TTL_SECONDS" envDefault:"600"`
	CodeLength         int    `env:"CODE_LENGTH" envDefault:"6"`
	CodeAlphabet       string `env:"CODE_ALPHABET" envDefault:"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"`
	RateLimitPerMin    int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	AuditRetentionDays int    `env:"AUDIT_RETENTION_DAYS" envDefault:"30"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLSeconds) * time.Second
}

func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.CodeTTLSeconds <= 0 {
		return fmt.Errorf("CODE_TTL_SECONDS must be positive, got %d", c.CodeTTLSeconds)
	}
	if c.CodeLength < 4 {
		return fmt.Errorf("CODE_LENGTH must be at least 4, got %d", c.CodeLength)
	}
	if len(c.CodeAlphabet) < 2 {
		return fmt.Errorf("CODE_ALPHABET must contain at least 2 characters")
	}
	for _, r := range c.CodeAlphabet {
		if !strings.ContainsRune(codeAlphabetDefault, r) {
			return fmt.Errorf("CODE_ALPHABET must contain only uppercase letters and digits, got %q", r)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
