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

// Package manager orchestrates hook execution for lifecycle events. It plans
// the hooks registered for an event into dependency levels, resolves each
// hook to a capability and dispatches the levels through a coordinator.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/hookd/pkg/hooks"
	"github.com/kadirpekel/hookd/pkg/hooks/dependency"
	"github.com/kadirpekel/hookd/pkg/hooks/executor"
)

const (
	tracerName = "hookd.manager"

	SpanTrigger = "hookd.trigger"

	AttrEvent     = "hookd.event"
	AttrHookCount = "hookd.hook_count"
	AttrLevel     = "hookd.level"
	AttrLevelSize = "hookd.level_size"
)

// Stats combines the graph shape with the running execution totals.
type Stats struct {
	Enabled      bool             `json:"enabled"`
	Graph        dependency.Stats `json:"graph"`
	Execution    executor.Stats   `json:"execution"`
	Capabilities []string         `json:"capabilities"`
	Active       int              `json:"active_executions"`
}

// Manager is the entry point for registering hooks and triggering events.
type Manager struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	registry    *executor.Registry
	coordinator *executor.Coordinator
	defaults    executor.Config
	workingDir  string
	environment map[string]string

	graph   atomic.Pointer[dependency.Graph]
	enabled atomic.Bool

	observersMu sync.RWMutex
	observers   []Observer
}

// New creates a manager with an empty hook graph and capability registry.
func New(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	registry, _ := executor.NewRegistry()
	m := &Manager{
		logger:      o.logger,
		tracer:      o.tracer,
		registry:    registry,
		defaults:    o.defaults,
		workingDir:  o.workingDir,
		environment: o.environment,
		observers:   o.observers,
	}
	m.graph.Store(dependency.New())
	m.enabled.Store(o.enabled)

	if o.coordinator != nil {
		m.coordinator = o.coordinator
		m.coordinator.SetCompletionFunc(m.executionFinished)
	} else {
		m.coordinator = executor.NewCoordinator(
			executor.WithMaxWorkers(o.maxWorkers),
			executor.WithLogger(o.logger),
			executor.WithCompletionFunc(m.executionFinished),
		)
	}
	return m
}

// RegisterCapability makes a capability available under its type label.
func (m *Manager) RegisterCapability(c executor.Capability) error {
	if err := m.registry.Register(c); err != nil {
		return err
	}
	m.logger.Debug("Capability registered", "type", c.Type())
	return nil
}

// Registry exposes the capability registry.
func (m *Manager) Registry() *executor.Registry {
	return m.registry
}

// AddObserver registers an observer for execution and trigger results.
func (m *Manager) AddObserver(o Observer) {
	if o == nil {
		return
	}
	m.observersMu.Lock()
	m.observers = append(m.observers, o)
	m.observersMu.Unlock()
}

// AddHook registers a single hook and returns its id.
func (m *Manager) AddHook(def hooks.Definition) (string, error) {
	id, err := m.graph.Load().AddHook(def)
	if err != nil {
		return "", err
	}
	m.logger.Debug("Hook registered", "hook", id, "event", def.Event, "type", def.Type)
	return id, nil
}

// AddHooks registers definitions in order and then checks that every
// declared dependency exists. It stops at the first definition that cannot
// be added.
func (m *Manager) AddHooks(defs []hooks.Definition) ([]string, error) {
	ids := make([]string, 0, len(defs))
	for i, def := range defs {
		id, err := m.AddHook(def)
		if err != nil {
			return ids, fmt.Errorf("hook #%d: %w", i, err)
		}
		ids = append(ids, id)
	}
	if err := m.graph.Load().ValidateDependencies(); err != nil {
		return ids, err
	}
	return ids, nil
}

// ReplaceHooks swaps the whole hook set. The new set is built and validated
// on a fresh graph first, so a bad set leaves the current one in place.
func (m *Manager) ReplaceHooks(defs []hooks.Definition) error {
	g := dependency.New()
	for i, def := range defs {
		if _, err := g.AddHook(def); err != nil {
			return fmt.Errorf("hook #%d: %w", i, err)
		}
	}
	if err := m.validateGraph(g); err != nil {
		return err
	}
	m.graph.Store(g)
	m.logger.Info("Hook set replaced", "hooks", g.Len())
	return nil
}

// RemoveHook unregisters a hook.
func (m *Manager) RemoveHook(id string) error {
	return m.graph.Load().RemoveHook(id)
}

// Hook returns a registered hook definition.
func (m *Manager) Hook(id string) (hooks.Definition, bool) {
	return m.graph.Load().Hook(id)
}

// Hooks returns all registered hooks in insertion order.
func (m *Manager) Hooks() []hooks.Definition {
	return m.graph.Load().Hooks()
}

// Validate checks that every dependency exists and every hook type has a
// registered capability.
func (m *Manager) Validate() error {
	return m.validateGraph(m.graph.Load())
}

func (m *Manager) validateGraph(g *dependency.Graph) error {
	var errs []error
	if err := g.ValidateDependencies(); err != nil {
		errs = append(errs, err)
	}
	for _, def := range g.Hooks() {
		if _, err := m.registry.Resolve(def); err != nil {
			errs = append(errs, err)
		}
	}

	cross := g.CrossEventDependencies()
	ids := make([]string, 0, len(cross))
	for id := range cross {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.logger.Warn("Hook depends on hooks of another event; the dependency is treated as satisfied",
			"hook", id, "depends_on", cross[id])
	}

	return errors.Join(errs...)
}

// Plan returns the execution levels for an event type.
func (m *Manager) Plan(event hooks.EventType) (*dependency.Plan, error) {
	return m.graph.Load().Plan(event)
}

// SetEnabled turns event handling on or off.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
	m.logger.Info("Hook execution toggled", "enabled", enabled)
}

// Enabled reports whether triggers run hooks.
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// CancelExecution cancels one tracked execution.
func (m *Manager) CancelExecution(id string) bool {
	return m.coordinator.CancelExecution(id)
}

// CancelAll cancels every tracked execution.
func (m *Manager) CancelAll() int {
	return m.coordinator.CancelAll()
}

// ActiveExecutions lists the ids of tracked executions in flight.
func (m *Manager) ActiveExecutions() []string {
	return m.coordinator.ActiveExecutions()
}

// Stats returns graph and execution statistics.
func (m *Manager) Stats() Stats {
	return Stats{
		Enabled:      m.Enabled(),
		Graph:        m.graph.Load().Stats(),
		Execution:    m.coordinator.Stats(),
		Capabilities: m.registry.Labels(),
		Active:       len(m.coordinator.ActiveExecutions()),
	}
}

// Close waits for detached fire-and-forget work to finish or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	return m.coordinator.Wait(ctx)
}

// Trigger runs every hook registered for the event. It returns an error
// only for configuration problems or when at least one required hook
// failed; failures of optional hooks are reported in the aggregate alone.
func (m *Manager) Trigger(ctx context.Context, event hooks.Event) (executor.AggregatedResult, error) {
	if !m.Enabled() {
		m.logger.Debug("Hooks disabled, skipping event", "event", event.Type)
		return executor.AggregatedResult{}, nil
	}
	if !event.Type.Valid() {
		return executor.AggregatedResult{}, &hooks.ConfigurationError{
			Reason: fmt.Sprintf("unknown event type %q", event.Type),
			Err:    hooks.ErrInvalidDefinition,
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ctx, span := m.tracer.Start(ctx, SpanTrigger,
		trace.WithAttributes(attribute.String(AttrEvent, event.Type.String())))
	defer span.End()

	agg, err := m.trigger(ctx, span, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.triggerFinished(ctx, event, agg, err)
	return agg, err
}

func (m *Manager) trigger(ctx context.Context, span trace.Span, event hooks.Event) (executor.AggregatedResult, error) {
	plan, err := m.Plan(event.Type)
	if err != nil {
		return executor.AggregatedResult{}, err
	}
	if plan.Empty() {
		m.logger.Debug("No hooks registered for event", "event", event.Type)
		return executor.AggregatedResult{}, nil
	}
	span.SetAttributes(attribute.Int(AttrHookCount, plan.HookCount()))

	snapshot := hooks.NewSnapshot(event, m.workingDir, m.environment)
	levels, err := m.resolve(plan, snapshot)
	if err != nil {
		return executor.AggregatedResult{}, err
	}

	var results []executor.Result
	for i, level := range levels {
		if ctx.Err() != nil {
			m.logger.Warn("Trigger cancelled, skipping remaining levels",
				"event", event.Type, "remaining", len(levels)-i)
			break
		}
		span.AddEvent("level", trace.WithAttributes(
			attribute.Int(AttrLevel, i),
			attribute.Int(AttrLevelSize, len(level))))

		levelResults, aborted := m.runLevel(ctx, level)
		results = append(results, levelResults...)
		if aborted {
			m.logger.Warn("Required blocking hook failed, aborting remaining levels",
				"event", event.Type, "level", i, "remaining", len(levels)-i-1)
			break
		}
	}

	agg := executor.Aggregate(results)
	m.logger.Info("Event handled", "event", event.Type, "summary", agg.Summary())

	if agg.HasCriticalFailures() {
		return agg, requiredHookError(event.Type, agg)
	}
	return agg, nil
}

// resolve binds every planned hook to its capability and execution context.
// Nothing runs unless the whole plan resolves.
func (m *Manager) resolve(plan *dependency.Plan, snapshot hooks.Snapshot) ([][]executor.Task, error) {
	var errs []error
	levels := make([][]executor.Task, len(plan.Levels))
	for i, level := range plan.Levels {
		tasks := make([]executor.Task, 0, len(level.Hooks))
		for _, def := range level.Hooks {
			capability, err := m.registry.Resolve(def)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			hc := snapshot.For(def)
			if !capability.CanExecute(hc) {
				errs = append(errs, &hooks.ConfigurationError{
					HookID: def.ID,
					Reason: fmt.Sprintf("capability %q cannot execute this hook", capability.Type()),
				})
				continue
			}
			cfg := executor.ConfigFor(def, m.baseConfig(capability))
			tasks = append(tasks, executor.Task{
				Capability: capability,
				Context:    executor.NewExecutionContext(hc, cfg),
			})
		}
		levels[i] = tasks
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return levels, nil
}

// baseConfig overlays a capability's timing hints on the manager defaults.
func (m *Manager) baseConfig(c executor.Capability) executor.Config {
	base := m.defaults
	if h, ok := c.(executor.Hinter); ok {
		hint := h.DefaultConfig()
		if hint.Timeout > 0 {
			base.Timeout = hint.Timeout
		}
		if hint.RetryDelay > 0 {
			base.RetryDelay = hint.RetryDelay
		}
	}
	return base
}

// runLevel dispatches one level. Fire-and-forget members are detached
// first, blocking members run alone in order and async members run
// together last. It reports whether a required blocking hook failed, in
// which case the async members are not started.
func (m *Manager) runLevel(ctx context.Context, tasks []executor.Task) ([]executor.Result, bool) {
	var blocking, async []executor.Task
	for _, t := range tasks {
		switch t.Context.Config.Mode {
		case hooks.ModeFireAndForget:
			m.coordinator.Detach(ctx, t)
		case hooks.ModeBlocking:
			blocking = append(blocking, t)
		default:
			async = append(async, t)
		}
	}

	var results []executor.Result
	for _, t := range blocking {
		agg := m.coordinator.Execute(ctx, []executor.Task{t})
		results = append(results, agg.Results...)
		if agg.HasCriticalFailures() {
			return results, true
		}
	}

	if len(async) > 0 {
		agg := m.coordinator.Execute(ctx, async)
		results = append(results, agg.Results...)
	}
	return results, false
}

func requiredHookError(event hooks.EventType, agg executor.AggregatedResult) error {
	failures := agg.CriticalFailures()
	err := &hooks.RequiredHookError{
		Event:   event,
		Failed:  make([]string, 0, len(failures)),
		Reasons: make(map[string]string, len(failures)),
	}
	for _, r := range failures {
		err.Failed = append(err.Failed, r.HookID)
		err.Reasons[r.HookID] = r.Error
	}
	return err
}

func (m *Manager) executionFinished(ctx context.Context, r executor.Result) {
	if r.Status() == executor.StatusFailed {
		m.logger.Warn("Hook failed",
			"hook", r.HookID,
			"capability", r.Capability,
			"event", r.Event,
			"required", r.Required,
			"retries", r.RetryAttempts,
			"error", r.Error)
	}

	m.observersMu.RLock()
	observers := m.observers
	m.observersMu.RUnlock()
	for _, o := range observers {
		o.ExecutionFinished(ctx, r)
	}
}

func (m *Manager) triggerFinished(ctx context.Context, event hooks.Event, agg executor.AggregatedResult, err error) {
	m.observersMu.RLock()
	observers := m.observers
	m.observersMu.RUnlock()
	for _, o := range observers {
		o.TriggerFinished(ctx, event, agg, err)
	}
}
