package config

import (
	"errors"
	"os"
	"strconv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                string
	DatabaseDSN         string
	JWTSecret           string
	Env                 string
	RecentMessagesLimit int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                getenv("APP_PORT", "8080"),
		DatabaseDSN:         getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatrelay port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:           getenv("JWT_SECRET", defaultJWTSecret),
		Env:                 getenv("APP_ENV", "dev"),
		RecentMessagesLimit: getenvInt("RECENT_MESSAGES_LIMIT", 50),
	}
}

// Validate rejects configs that cannot serve: missing port or DSN, or the
// shipped default JWT secret outside of dev.
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: default jwt secret is not allowed outside dev")
	}
	return nil
}
