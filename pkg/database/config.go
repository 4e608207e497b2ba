// Package database provides PostgreSQL connectivity and schema migrations
// for the checkpoint store.
package database

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// LoadConfigFromEnv reads connection settings from the environment with
// local-development defaults.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Host:         envOr("DB_HOST", "localhost"),
		User:         envOr("DB_USER", "fathom"),
		Password:     os.Getenv("DB_PASSWORD"),
		Database:     envOr("DB_NAME", "fathom"),
		SSLMode:      envOr("DB_SSLMODE", "disable"),
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
	port, err := strconv.Atoi(envOr("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.Port = port
	return cfg, nil
}

// DSN renders the connection string for the pgx stdlib driver.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
