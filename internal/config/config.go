package config

import (
	"time"

	"github.com/harun/crucible/pkg/sweep"
)

// Config represents the main Crucible configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Sandbox limits
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Storage configuration
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Jobs queue configuration
	Jobs JobsConfig `json:"jobs" mapstructure:"jobs"`

	// Uploads configuration
	Uploads UploadsConfig `json:"uploads" mapstructure:"uploads"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	AuthToken    string `json:"auth_token" mapstructure:"auth_token"`
	RateLimitRPS int    `json:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// SandboxConfig bounds script execution
type SandboxConfig struct {
	BaseDir                string        `json:"base_dir" mapstructure:"base_dir"`
	SharedReadOnlyDirs     []string      `json:"shared_read_only_dirs" mapstructure:"shared_read_only_dirs"`
	MaxSessions            int           `json:"max_sessions" mapstructure:"max_sessions"`
	IdleTimeout            time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	MaxConcurrentKernels   int           `json:"max_concurrent_kernels" mapstructure:"max_concurrent_kernels"`
	DefaultTimeout         time.Duration `json:"default_timeout" mapstructure:"default_timeout"`
	MaxTimeout             time.Duration `json:"max_timeout" mapstructure:"max_timeout"`
	MemoryCeilingMB        int           `json:"memory_ceiling_mb" mapstructure:"memory_ceiling_mb"`
	MaxSteps               uint64        `json:"max_steps" mapstructure:"max_steps"`
	MaxScriptBytes         int           `json:"max_script_bytes" mapstructure:"max_script_bytes"`
	MaxInlineArtifactBytes int64         `json:"max_inline_artifact_bytes" mapstructure:"max_inline_artifact_bytes"`
	StorableExtensions     []string      `json:"storable_extensions" mapstructure:"storable_extensions"`
}

// StorageConfig holds the artifact store configuration
type StorageConfig struct {
	Path        string        `json:"path" mapstructure:"path"`
	ArtifactTTL time.Duration `json:"artifact_ttl" mapstructure:"artifact_ttl"`
}

// JobsConfig holds the async queue configuration
type JobsConfig struct {
	Workers   int           `json:"workers" mapstructure:"workers"`
	QueueSize int           `json:"queue_size" mapstructure:"queue_size"`
	Retention time.Duration `json:"retention" mapstructure:"retention"`
}

// UploadsConfig holds the shared upload directory configuration
type UploadsConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	MaxBytes int64  `json:"max_bytes" mapstructure:"max_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
	AuditLog string `json:"audit_log" mapstructure:"audit_log"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8196,
			RateLimitRPS: 20,
		},
		Sandbox: SandboxConfig{
			MaxSessions:            32,
			IdleTimeout:            30 * time.Minute,
			MaxConcurrentKernels:   8,
			DefaultTimeout:         30 * time.Second,
			MaxTimeout:             5 * time.Minute,
			MemoryCeilingMB:        512,
			MaxSteps:               200_000_000,
			MaxScriptBytes:         256 << 10,
			MaxInlineArtifactBytes: 8 << 20,
			StorableExtensions:     sweep.DefaultStorableExtensions,
		},
		Storage: StorageConfig{
			ArtifactTTL: 24 * time.Hour,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 64,
			Retention: time.Hour,
		},
		Uploads: UploadsConfig{
			MaxBytes: 64 << 20,
		},
		Logging: LoggingConfig{
			Level:    "info",
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
		},
	}
}
