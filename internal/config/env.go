package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overlays ADAPIPE_-prefixed environment variables onto cfg,
// the same override-after-file precedence the teacher's VAULTAIRE_ prefix
// established.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ADAPIPE_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("ADAPIPE_METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = p
		}
	}

	if v := os.Getenv("ADAPIPE_CHUNK_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.ChunkSizeMB = n
		}
	}
	if v := os.Getenv("ADAPIPE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.Workers = n
		}
	}
	if v := os.Getenv("ADAPIPE_CHANNEL_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.ChannelDepth = n
		}
	}
	if v := os.Getenv("ADAPIPE_CPU_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.CPUTokens = n
		}
	}
	if v := os.Getenv("ADAPIPE_IO_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.IOTokens = n
		}
	}
	if v := os.Getenv("ADAPIPE_STORAGE_TYPE"); v != "" {
		cfg.Run.StorageType = v
	}

	if v := os.Getenv("ADAPIPE_DB_HOST"); v != "" {
		cfg.Repository.Host = v
	}
	if v := os.Getenv("ADAPIPE_DB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Repository.Port = n
		}
	}
	if v := os.Getenv("ADAPIPE_DB_NAME"); v != "" {
		cfg.Repository.Database = v
	}
	if v := os.Getenv("ADAPIPE_DB_USER"); v != "" {
		cfg.Repository.User = v
	}
	if v := os.Getenv("ADAPIPE_DB_PASSWORD"); v != "" {
		cfg.Repository.Password = v
	}
}

// GetEnvOrDefault returns the environment variable's value, or defaultValue
// if unset or empty.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
