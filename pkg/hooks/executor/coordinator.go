// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// DefaultMaxWorkers bounds how many executions run at once per coordinator.
const DefaultMaxWorkers = 64

// Task pairs a capability with the context it should run under.
type Task struct {
	Capability Capability
	Context    *ExecutionContext
}

// Stats are the running totals across every tracked batch.
type Stats struct {
	TotalExecutions int64         `json:"total_executions"`
	Successful      int64         `json:"successful"`
	Failed          int64         `json:"failed"`
	Cancelled       int64         `json:"cancelled"`
	TotalDuration   time.Duration `json:"total_duration"`
	LastExecution   time.Time     `json:"last_execution,omitempty"`
}

// SuccessRate returns successful/total, or 0 before any execution.
func (s Stats) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.TotalExecutions)
}

// AverageDuration returns the mean execution time.
func (s Stats) AverageDuration() time.Duration {
	if s.TotalExecutions == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.TotalExecutions)
}

// CompletionFunc is called once for every finished execution, tracked or
// detached.
type CompletionFunc func(ctx context.Context, r Result)

// Coordinator dispatches batches of tasks according to their mode, tracks
// in-flight executions for cancellation and keeps running statistics.
type Coordinator struct {
	logger     *slog.Logger
	sem        *semaphore.Weighted
	maxWorkers int64
	onComplete CompletionFunc

	activeMu sync.Mutex
	active   map[string]*ExecutionContext

	statsMu sync.Mutex
	stats   Stats

	detached sync.WaitGroup
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxWorkers bounds concurrent executions. Values below 1 are ignored.
func WithMaxWorkers(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxWorkers = int64(n)
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCompletionFunc registers a callback for finished executions.
func WithCompletionFunc(fn CompletionFunc) CoordinatorOption {
	return func(c *Coordinator) {
		c.onComplete = fn
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		logger:     slog.Default(),
		maxWorkers: DefaultMaxWorkers,
		active:     make(map[string]*ExecutionContext),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sem = semaphore.NewWeighted(c.maxWorkers)
	return c
}

// SetCompletionFunc replaces the completion callback.
func (c *Coordinator) SetCompletionFunc(fn CompletionFunc) {
	c.onComplete = fn
}

// Execute runs a batch. Blocking tasks run one at a time in input order,
// then all async tasks run concurrently and are awaited together.
// Fire-and-forget tasks are detached and left out of the returned aggregate.
func (c *Coordinator) Execute(ctx context.Context, tasks []Task) AggregatedResult {
	var blocking, async []Task
	for _, t := range tasks {
		switch t.Context.Config.Mode {
		case hooks.ModeBlocking:
			blocking = append(blocking, t)
		case hooks.ModeFireAndForget:
			c.Detach(ctx, t)
		default:
			async = append(async, t)
		}
	}

	results := make([]Result, 0, len(blocking)+len(async))
	for _, t := range blocking {
		results = append(results, c.runTracked(ctx, t))
	}

	if len(async) > 0 {
		asyncResults := make([]Result, len(async))
		var g errgroup.Group
		for i, t := range async {
			g.Go(func() error {
				asyncResults[i] = c.runTracked(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
		results = append(results, asyncResults...)
	}

	c.recordStats(results)

	agg := Aggregate(results)
	if agg.Total > 0 {
		c.logger.Debug("Coordinated execution completed", "summary", agg.Summary())
	}
	return agg
}

// Detach launches a task without waiting for it. The task keeps running
// after ctx is cancelled; use Wait to drain detached work on shutdown.
func (c *Coordinator) Detach(ctx context.Context, t Task) {
	dctx := context.WithoutCancel(ctx)
	c.detached.Add(1)
	go func() {
		defer c.detached.Done()
		if err := c.sem.Acquire(dctx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		r := c.execute(dctx, t)
		c.logger.Debug("Fire-and-forget hook finished",
			"hook", r.HookID,
			"status", r.Status(),
			"duration", r.Duration,
			"error", r.Error)
	}()
}

// Wait blocks until all detached tasks have finished or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelExecution sets the cancellation flag of one tracked execution.
func (c *Coordinator) CancelExecution(id string) bool {
	c.activeMu.Lock()
	ec, ok := c.active[id]
	c.activeMu.Unlock()
	if ok {
		ec.Cancel()
	}
	return ok
}

// CancelAll cancels every tracked execution and returns how many there were.
func (c *Coordinator) CancelAll() int {
	c.activeMu.Lock()
	pending := make([]*ExecutionContext, 0, len(c.active))
	for _, ec := range c.active {
		pending = append(pending, ec)
	}
	c.activeMu.Unlock()

	for _, ec := range pending {
		ec.Cancel()
	}
	return len(pending)
}

// ActiveExecutions returns the ids of tracked executions in flight.
func (c *Coordinator) ActiveExecutions() []string {
	c.activeMu.Lock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.activeMu.Unlock()
	sort.Strings(ids)
	return ids
}

// Stats returns a copy of the running statistics.
func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// ResetStats clears the running statistics.
func (c *Coordinator) ResetStats() {
	c.statsMu.Lock()
	c.stats = Stats{}
	c.statsMu.Unlock()
}

func (c *Coordinator) runTracked(ctx context.Context, t Task) Result {
	ec := t.Context
	c.register(ec)
	defer c.deregister(ec.ID)

	if err := c.sem.Acquire(ctx, 1); err != nil {
		r := newResult(t.Capability.Type(), ec)
		r.Cancelled = true
		r.Duration = ec.Elapsed()
		c.complete(ctx, r)
		return r
	}
	defer c.sem.Release(1)

	return c.execute(ctx, t)
}

func (c *Coordinator) execute(ctx context.Context, t Task) Result {
	ec := t.Context

	if p, ok := t.Capability.(Preparer); ok && !ec.Cancelled() {
		if err := p.Prepare(ctx, ec.Hook); err != nil {
			c.logger.Warn("Hook preparation failed", "hook", ec.Hook.Hook.ID, "execution", ec.ID, "error", err)
			r := newResult(t.Capability.Type(), ec)
			r.Error = fmt.Sprintf("prepare failed: %v", err)
			r.Duration = ec.Elapsed()
			c.complete(ctx, r)
			return r
		}
	}

	r := run(ctx, t.Capability, ec, c.logger)

	if cl, ok := t.Capability.(Cleaner); ok {
		if err := cl.Cleanup(ctx, ec.Hook); err != nil {
			c.logger.Warn("Hook cleanup failed", "hook", ec.Hook.Hook.ID, "execution", ec.ID, "error", err)
		}
	}

	c.complete(ctx, r)
	return r
}

func (c *Coordinator) complete(ctx context.Context, r Result) {
	if c.onComplete != nil {
		c.onComplete(ctx, r)
	}
}

func (c *Coordinator) register(ec *ExecutionContext) {
	c.activeMu.Lock()
	c.active[ec.ID] = ec
	c.activeMu.Unlock()
}

func (c *Coordinator) deregister(id string) {
	c.activeMu.Lock()
	delete(c.active, id)
	c.activeMu.Unlock()
}

func (c *Coordinator) recordStats(results []Result) {
	if len(results) == 0 {
		return
	}

	var batch Stats
	for _, r := range results {
		batch.TotalExecutions++
		batch.TotalDuration += r.Duration
		switch r.Status() {
		case StatusCancelled:
			batch.Cancelled++
		case StatusFailed:
			batch.Failed++
		default:
			batch.Successful++
		}
	}

	c.statsMu.Lock()
	c.stats.TotalExecutions += batch.TotalExecutions
	c.stats.Successful += batch.Successful
	c.stats.Failed += batch.Failed
	c.stats.Cancelled += batch.Cancelled
	c.stats.TotalDuration += batch.TotalDuration
	c.stats.LastExecution = time.Now()
	c.statsMu.Unlock()
}
