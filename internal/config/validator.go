package config

import (
	"fmt"
	"time"
)

// Hard ceilings that catch nonsense values before they reach the
// executor, where they would only surface as strange runtime behavior.
const (
	maxSessionsCeiling    = 4096
	maxConcurrencyCeiling = 512
	maxTimeoutCeiling     = time.Hour
)

// Validate rejects configurations the daemon cannot run with
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps cannot be negative, got %d", cfg.Server.RateLimitRPS)
	}

	s := cfg.Sandbox
	if s.MaxSessions <= 0 || s.MaxSessions > maxSessionsCeiling {
		return fmt.Errorf("sandbox.max_sessions must be 1-%d, got %d", maxSessionsCeiling, s.MaxSessions)
	}
	if s.MaxConcurrentKernels <= 0 || s.MaxConcurrentKernels > maxConcurrencyCeiling {
		return fmt.Errorf("sandbox.max_concurrent_kernels must be 1-%d, got %d", maxConcurrencyCeiling, s.MaxConcurrentKernels)
	}
	if s.DefaultTimeout <= 0 {
		return fmt.Errorf("sandbox.default_timeout must be positive, got %s", s.DefaultTimeout)
	}
	if s.MaxTimeout < s.DefaultTimeout || s.MaxTimeout > maxTimeoutCeiling {
		return fmt.Errorf("sandbox.max_timeout must be between default_timeout and %s, got %s", maxTimeoutCeiling, s.MaxTimeout)
	}
	if s.MemoryCeilingMB < 0 {
		return fmt.Errorf("sandbox.memory_ceiling_mb cannot be negative, got %d", s.MemoryCeilingMB)
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("sandbox.idle_timeout cannot be negative, got %s", s.IdleTimeout)
	}

	if cfg.Storage.ArtifactTTL <= 0 {
		return fmt.Errorf("storage.artifact_ttl must be positive, got %s", cfg.Storage.ArtifactTTL)
	}
	if cfg.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive, got %d", cfg.Jobs.Workers)
	}
	if cfg.Jobs.QueueSize <= 0 {
		return fmt.Errorf("jobs.queue_size must be positive, got %d", cfg.Jobs.QueueSize)
	}
	if cfg.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive, got %d", cfg.Uploads.MaxBytes)
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "":
	default:
		return fmt.Errorf("logging.level %q is not a zerolog level", cfg.Logging.Level)
	}

	return nil
}
