package sandbox

import (
	"time"
)

// Config holds the settings of the linter sandbox.
type Config struct {
	// Image must provide sh, tar, ruff and bandit.
	Image string
	// MemoryLimit caps each container, in bytes.
	MemoryLimit int64
	// CPULimit is the number of CPUs a container may use.
	CPULimit float64
	// Timeout bounds one tool run inside a container.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers kept ready.
	PoolSize int
	// Workdir is where the snapshot is unpacked inside the container.
	Workdir string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Image:       "archon-pytools:latest",
		MemoryLimit: 512 * 1024 * 1024,
		CPULimit:    1,
		Timeout:     2 * time.Minute,
		PoolSize:    2,
		Workdir:     "/tmp/ws",
	}
}
