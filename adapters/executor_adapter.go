// File: adapters/executor_adapter.go
// Package adapters provides glue between core concurrency and the api/control layers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ExecutorAdapter implements the api.Executor interface by delegating to a
// concurrency.Scheduler, and publishes the scheduler counters into control
// registries for telemetry and debug dumps.

package adapters

import (
	"context"
	"fmt"

	"github.com/momentics/hioload-sync/api"
	"github.com/momentics/hioload-sync/control"
	"github.com/momentics/hioload-sync/core/concurrency"
)

// Ensure compile-time interface compliance.
var (
	_ api.Executor         = (*ExecutorAdapter)(nil)
	_ api.GracefulShutdown = (*ExecutorAdapter)(nil)
)

// ExecutorAdapter wraps a concurrency.Scheduler to satisfy the api.Executor contract.
type ExecutorAdapter struct {
	sched *concurrency.Scheduler
}

// NewExecutorAdapter builds a scheduler from cfg and wraps it.
func NewExecutorAdapter(cfg control.Config, opts ...concurrency.Option) (*ExecutorAdapter, error) {
	s, err := concurrency.NewSchedulerFromConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &ExecutorAdapter{sched: s}, nil
}

// WrapScheduler adapts an existing scheduler.
func WrapScheduler(s *concurrency.Scheduler) *ExecutorAdapter {
	return &ExecutorAdapter{sched: s}
}

// Scheduler exposes the underlying scheduler.
func (ea *ExecutorAdapter) Scheduler() *concurrency.Scheduler {
	return ea.sched
}

// Submit dispatches action to the scheduler.
func (ea *ExecutorAdapter) Submit(action func(), exclusive bool) (api.Handle, error) {
	w, err := ea.sched.Submit(action, exclusive)
	if err != nil {
		// keep the interface nil, not a typed nil *Work
		return nil, err
	}
	return w, nil
}

// RunOne executes one pending item on the caller.
func (ea *ExecutorAdapter) RunOne() (bool, error) {
	return ea.sched.RunOne()
}

// NumWorkers returns the number of dedicated threads created so far.
func (ea *ExecutorAdapter) NumWorkers() int {
	return ea.sched.NumWorkers()
}

// Dispose shuts the scheduler down.
func (ea *ExecutorAdapter) Dispose() {
	ea.sched.Dispose()
}

// Shutdown disposes the scheduler and blocks until its dedicated threads
// exited.
func (ea *ExecutorAdapter) Shutdown() error {
	ea.sched.Dispose()
	return ea.sched.Wait(context.Background())
}

// metricsPrefix names the scheduler inside shared registries.
func (ea *ExecutorAdapter) metricsPrefix() string {
	return fmt.Sprintf("scheduler.%d", ea.sched.ID())
}

// Publish writes the current scheduler counters into mr.
func (ea *ExecutorAdapter) Publish(mr *control.MetricsRegistry) {
	st := ea.sched.Stats()
	exclusive := int64(0)
	if st.ExclusivePending {
		exclusive = 1
	}
	mr.Publish(ea.metricsPrefix(), map[string]int64{
		"threads":   int64(st.Threads),
		"idle":      int64(st.Idle),
		"running":   int64(st.Running),
		"executing": int64(st.Executing),
		"pending":   int64(st.Pending),
		"submitted": int64(st.Submitted),
		"executed":  int64(st.Executed),
		"faulted":   int64(st.Faulted),
		"canceled":  int64(st.Canceled),
		"exclusive": exclusive,
	})
}

// RegisterProbes exposes the scheduler stats through dp.
func (ea *ExecutorAdapter) RegisterProbes(dp *control.DebugProbes) {
	dp.RegisterProbe(ea.metricsPrefix(), func() any {
		return ea.sched.Stats()
	})
}
