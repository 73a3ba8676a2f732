package config

import (
	"os"
	"strconv"
)

// Environment variables that override file settings.
const (
	EnvServerHost      = "KAKUNIN_SERVER_HOST"
	EnvServerPort      = "KAKUNIN_SERVER_PORT"
	EnvStoreDriver     = "KAKUNIN_STORE_DRIVER"
	EnvDatabasePath    = "KAKUNIN_DATABASE_PATH"
	EnvPostgresDSN     = "KAKUNIN_POSTGRES_DSN"
	EnvGenerationURL   = "KAKUNIN_GENERATION_URL"
	EnvGenerationModel = "KAKUNIN_GENERATION_MODEL"
	EnvGenerationProv  = "KAKUNIN_GENERATION_PROVIDER"
	EnvRedisAddr       = "KAKUNIN_REDIS_ADDR"
)

// ApplyEnv overrides selected fields from KAKUNIN_* environment variables.
// Unset or unparsable variables leave the field untouched.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Server.Host, EnvServerHost)
	if v := os.Getenv(EnvServerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setString(&cfg.Storage.Driver, EnvStoreDriver)
	setString(&cfg.Storage.DatabasePath, EnvDatabasePath)
	setString(&cfg.Storage.PostgresDSN, EnvPostgresDSN)
	setString(&cfg.Generation.Provider, EnvGenerationProv)
	setString(&cfg.Generation.BaseURL, EnvGenerationURL)
	setString(&cfg.Generation.Model, EnvGenerationModel)
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Feedback.RedisAddr = v
		cfg.Feedback.EventLog = "redis"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
