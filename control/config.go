// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Scheduler configuration with defaults, validation and environment overrides.

package control

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/momentics/hioload-sync/api"
)

// Config holds construction parameters of a work scheduler.
type Config struct {
	// MaxDedicatedThreads caps the number of dedicated worker threads.
	// Zero means work only runs through RunOne.
	MaxDedicatedThreads int
	// BacklogCapacity sizes the lock-free ring in front of the backlog
	// spill-over. Rounded up to a power of two.
	BacklogCapacity int
	// PinThreads binds each dedicated thread to one CPU.
	PinThreads bool
}

// DefaultConfig returns one dedicated thread per logical CPU.
func DefaultConfig() Config {
	return Config{
		MaxDedicatedThreads: runtime.NumCPU(),
		BacklogCapacity:     1024,
	}
}

// Validate rejects configurations the scheduler cannot be built from.
func (c Config) Validate() error {
	if c.MaxDedicatedThreads < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "max dedicated threads must not be negative").
			WithContext("max_dedicated_threads", c.MaxDedicatedThreads)
	}
	if c.BacklogCapacity <= 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "backlog capacity must be positive").
			WithContext("backlog_capacity", c.BacklogCapacity)
	}
	return nil
}

// ApplyEnv overrides fields from <prefix>_MAX_THREADS, <prefix>_BACKLOG and
// <prefix>_PIN_THREADS.
func (c Config) ApplyEnv(prefix string) (Config, error) {
	return c.apply(prefix, os.LookupEnv)
}

func (c Config) apply(prefix string, lookup func(string) (string, bool)) (Config, error) {
	key := func(name string) string {
		return strings.ToUpper(prefix) + "_" + name
	}
	if v, ok := lookup(key("MAX_THREADS")); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", api.ErrInvalidArgument, key("MAX_THREADS"), err)
		}
		c.MaxDedicatedThreads = n
	}
	if v, ok := lookup(key("BACKLOG")); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", api.ErrInvalidArgument, key("BACKLOG"), err)
		}
		c.BacklogCapacity = n
	}
	if v, ok := lookup(key("PIN_THREADS")); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return c, fmt.Errorf("%w: %s: %v", api.ErrInvalidArgument, key("PIN_THREADS"), err)
		}
		c.PinThreads = b
	}
	return c, c.Validate()
}
