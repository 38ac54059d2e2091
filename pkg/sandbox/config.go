package sandbox

import (
	"time"

	"github.com/harun/crucible/pkg/sweep"
)

// Config bounds the executor.
type Config struct {
	// BaseDir is where session working directories live
	BaseDir string `json:"base_dir"`

	// SharedReadOnlyDirs are upload/shared roots scripts may read but never write
	SharedReadOnlyDirs []string `json:"shared_read_only_dirs"`

	// MaxSessions is the ceiling on live session namespaces
	MaxSessions int `json:"max_sessions"`

	// IdleTimeout is how long a session may idle before eviction
	IdleTimeout time.Duration `json:"idle_timeout"`

	// MaxConcurrentKernels bounds simultaneously running scripts
	MaxConcurrentKernels int `json:"max_concurrent_kernels"`

	// DefaultTimeout applies when a request does not set one
	DefaultTimeout time.Duration `json:"default_timeout"`

	// MaxTimeout caps the per-request timeout
	MaxTimeout time.Duration `json:"max_timeout"`

	// MemoryCeilingMB is the per-execution heap growth allowance
	MemoryCeilingMB int `json:"memory_ceiling_mb"`

	// MaxSteps is the interpreter step budget per execution; 0 disables it
	MaxSteps uint64 `json:"max_steps"`

	// MaxScriptBytes caps submitted script size
	MaxScriptBytes int `json:"max_script_bytes"`

	// MaxInlineArtifactBytes caps artifacts captured with content
	MaxInlineArtifactBytes int64 `json:"max_inline_artifact_bytes"`

	// StorableExtensions lists artifact extensions the sweep keeps
	StorableExtensions []string `json:"storable_extensions"`
}

// DefaultConfig returns the stock executor limits.
func DefaultConfig() Config {
	return Config{
		BaseDir:                "sandbox_data",
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
	}
}

// Validate rejects configurations the executor cannot run with.
func (c Config) Validate() error {
	if c.MaxSessions <= 0 {
		return ErrInvalidMaxSessions
	}
	if c.MaxConcurrentKernels <= 0 {
		return ErrInvalidConcurrency
	}
	if c.DefaultTimeout <= 0 || c.MaxTimeout < c.DefaultTimeout {
		return ErrInvalidTimeout
	}
	if c.MemoryCeilingMB < 0 {
		return ErrInvalidMemoryCeiling
	}
	return nil
}
