// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control using control package primitives.
// Tracked executors publish their counters on every Stats call.

package adapters

import (
	"sync"

	"github.com/momentics/hioload-sync/api"
	"github.com/momentics/hioload-sync/control"
	"github.com/momentics/hioload-sync/core/concurrency"
)

var (
	_ api.Control = (*ControlAdapter)(nil)
	_ api.Debug   = (*control.DebugProbes)(nil)
)

type ControlAdapter struct {
	config  control.Config
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes

	mu        sync.Mutex
	executors []*ExecutorAdapter
}

func NewControlAdapter(cfg control.Config) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  cfg,
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

// Config returns the configuration executors are built from.
func (c *ControlAdapter) Config() control.Config {
	return c.config
}

// NewExecutor builds an executor from the adapter config and tracks it.
func (c *ControlAdapter) NewExecutor(opts ...concurrency.Option) (*ExecutorAdapter, error) {
	ea, err := NewExecutorAdapter(c.config, opts...)
	if err != nil {
		return nil, err
	}
	c.Track(ea)
	return ea, nil
}

// Track publishes ea's counters and probes through this adapter.
func (c *ControlAdapter) Track(ea *ExecutorAdapter) {
	c.mu.Lock()
	c.executors = append(c.executors, ea)
	c.mu.Unlock()
	ea.RegisterProbes(c.debug)
	ea.Publish(c.metrics)
}

func (c *ControlAdapter) Stats() map[string]any {
	c.mu.Lock()
	tracked := append([]*ExecutorAdapter(nil), c.executors...)
	c.mu.Unlock()
	for _, ea := range tracked {
		ea.Publish(c.metrics)
	}

	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}
