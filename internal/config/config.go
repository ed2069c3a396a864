// Package config loads and hot-reloads adapipe's process configuration:
// server/logging settings, a run's default resource knobs, and the
// repository's storage backend.
package config

import "time"

// Config is the root configuration document, loaded from YAML and
// overlaid with ADAPIPE_-prefixed environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Run        PipelineRunConfig `yaml:"run"`
	Repository RepositoryConfig `yaml:"repository"`
}

// ServerConfig controls process-wide logging and metrics exposure.
type ServerConfig struct {
	MetricsPort int    `yaml:"metrics_port" default:"9090"`
	LogLevel    string `yaml:"log_level" default:"info"`
}

// PipelineRunConfig holds the default resource knobs a processing run uses
// absent explicit CLI flags (spec.md §6 CLI flags; §4.3 resource governor;
// §4.4 channel pipeline).
type PipelineRunConfig struct {
	ChunkSizeMB  int    `yaml:"chunk_size_mb" default:"1"`
	Workers      int    `yaml:"workers" default:"5"`
	ChannelDepth int    `yaml:"channel_depth" default:"4"`
	CPUTokens    int    `yaml:"cpu_tokens" default:"0"` // 0 => runtime.NumCPU()-1
	IOTokens     int    `yaml:"io_tokens" default:"0"`  // 0 => StorageType.DefaultIODepth()
	StorageType  string `yaml:"storage_type" default:"auto"`

	// MemoryLimitBytes bounds the governor's memory gauge; 0 disables the
	// hard cap (gauge-only mode, spec.md §4.3 "Memory (gauge only in v1)").
	MemoryLimitBytes int64 `yaml:"memory_limit_bytes" default:"0"`

	CancellationGrace time.Duration `yaml:"cancellation_grace" default:"5s"`
}

// RepositoryConfig configures the PipelineRepository adapter (spec.md §6
// persistence port).
type RepositoryConfig struct {
	Driver          string        `yaml:"driver" default:"postgres"`
	Host            string        `yaml:"host" default:"localhost"`
	Port            int           `yaml:"port" default:"5432"`
	Database        string        `yaml:"database" default:"adapipe"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode" default:"disable"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"5m"`
}

// Default returns a Config populated with the documented defaults, for use
// when no file is present and no environment overrides are set.
func Default() Config {
	return Config{
		Server: ServerConfig{MetricsPort: 9090, LogLevel: "info"},
		Run: PipelineRunConfig{
			ChunkSizeMB:       1,
			Workers:           5,
			ChannelDepth:      4,
			StorageType:       "auto",
			CancellationGrace: 5 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Database:        "adapipe",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}
