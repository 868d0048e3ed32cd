package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

type fakeCapability struct {
	label string
	calls atomic.Int32
	fn    func(ctx context.Context, call int32) (Outcome, error)
}

func newFake(label string, fn func(ctx context.Context, call int32) (Outcome, error)) *fakeCapability {
	return &fakeCapability{label: label, fn: fn}
}

func (f *fakeCapability) Type() string { return f.label }

func (f *fakeCapability) CanExecute(hooks.Context) bool { return true }

func (f *fakeCapability) Execute(ctx context.Context, hc hooks.Context) (Outcome, error) {
	n := f.calls.Add(1)
	if f.fn == nil {
		return Succeeded("ok", 0), nil
	}
	return f.fn(ctx, n)
}

func alwaysFail(msg string) func(context.Context, int32) (Outcome, error) {
	return func(context.Context, int32) (Outcome, error) {
		return Outcome{}, errors.New(msg)
	}
}

func sleepFor(d time.Duration) func(context.Context, int32) (Outcome, error) {
	return func(ctx context.Context, _ int32) (Outcome, error) {
		select {
		case <-time.After(d):
			return Succeeded("slept", d), nil
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
}

type lifecycleCapability struct {
	*fakeCapability
	prepareErr error
	prepared   atomic.Int32
	cleaned    atomic.Int32
}

func (l *lifecycleCapability) Prepare(context.Context, hooks.Context) error {
	l.prepared.Add(1)
	return l.prepareErr
}

func (l *lifecycleCapability) Cleanup(context.Context, hooks.Context) error {
	l.cleaned.Add(1)
	return nil
}

func testContext(id string, cfg Config) *ExecutionContext {
	snap := hooks.NewSnapshot(hooks.NewEvent(hooks.EventTaskStart, nil), "/tmp", nil)
	def := hooks.Definition{ID: id, Event: hooks.EventTaskStart, Type: "fake", Mode: cfg.Mode, Required: cfg.Required}
	return NewExecutionContext(snap.For(def), cfg)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	cfg.RetryDelay = time.Millisecond
	return cfg
}
