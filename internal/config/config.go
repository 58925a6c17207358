package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MinSecretLen is the shortest accepted SHAREIT_JWT_SECRET.
const MinSecretLen = 16

// Config holds application configuration. An empty JWTSecret means the
// signing key is generated and kept in the database.
type Config struct {
	DBPath         string
	SessionFile    string
	JWTSecret      string
	SessionTTL     time.Duration
	LogLevel       string
	StartingCoins  int
	BcryptCost     int
	PlainPasswords bool
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		DBPath:      getEnv("SHAREIT_DB", "shareit.db"),
		SessionFile: getEnv("SHAREIT_SESSION_FILE", ".shareit-session"),
		JWTSecret:   getEnv("SHAREIT_JWT_SECRET", ""),
		LogLevel:    getEnv("SHAREIT_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.SessionTTL, err = time.ParseDuration(getEnv("SHAREIT_SESSION_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("SHAREIT_SESSION_TTL: %w", err)
	}
	if cfg.StartingCoins, err = strconv.Atoi(getEnv("SHAREIT_STARTING_COINS", "100")); err != nil {
		return nil, fmt.Errorf("SHAREIT_STARTING_COINS: %w", err)
	}
	if cfg.BcryptCost, err = strconv.Atoi(getEnv("SHAREIT_BCRYPT_COST", "0")); err != nil {
		return nil, fmt.Errorf("SHAREIT_BCRYPT_COST: %w", err)
	}
	if cfg.PlainPasswords, err = strconv.ParseBool(getEnv("SHAREIT_PLAIN_PASSWORDS", "false")); err != nil {
		return nil, fmt.Errorf("SHAREIT_PLAIN_PASSWORDS: %w", err)
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("SHAREIT_DB is required")
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < MinSecretLen {
		return nil, fmt.Errorf("SHAREIT_JWT_SECRET must be at least %d bytes", MinSecretLen)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SHAREIT_SESSION_TTL must be positive")
	}
	if cfg.StartingCoins < 0 {
		return nil, fmt.Errorf("SHAREIT_STARTING_COINS must not be negative")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
