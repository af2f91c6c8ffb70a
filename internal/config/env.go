package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override file values.
const (
	EnvToken          = "BOT_TOKEN"
	EnvOwnerID        = "OWNER_ID"
	EnvDatabaseChatID = "DATABASE_CHAT_ID"
	EnvOwnerUsername  = "OWNER_USERNAME"
	EnvRedisURL       = "REDIS_URL"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment values on cfg using lookup (os.LookupEnv
// when nil).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvOwnerID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOwnerID, err)
		}
		cfg.Telegram.OwnerID = id
	}
	if v, ok := get(EnvDatabaseChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDatabaseChatID, err)
		}
		cfg.Telegram.DatabaseChatID = id
	}
	if v, ok := get(EnvOwnerUsername); ok {
		cfg.Telegram.OwnerUsername = strings.TrimPrefix(v, "@")
	}
	if v, ok := get(EnvRedisURL); ok {
		cfg.Storage.RedisURL = v
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "redis"
		}
	}
	return nil
}
