package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

func TestRunSuccessFirstAttempt(t *testing.T) {
	capability := newFake("fake", nil)
	r := Run(context.Background(), capability, testContext("h", fastConfig()))

	assert.True(t, r.Success)
	assert.False(t, r.Cancelled)
	assert.Equal(t, "ok", r.Output)
	assert.Equal(t, 0, r.RetryAttempts)
	assert.Equal(t, int32(1), capability.calls.Load())
	assert.Equal(t, StatusSuccess, r.Status())
	assert.Equal(t, "h", r.HookID)
	assert.Equal(t, "fake", r.Capability)
	assert.Equal(t, hooks.EventTaskStart, r.Event)
}

func TestRunRetriesExactlyMaxRetries(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		cfg := fastConfig()
		cfg.MaxRetries = n
		capability := newFake("fake", alwaysFail("boom"))

		r := Run(context.Background(), capability, testContext("h", cfg))

		assert.False(t, r.Success)
		assert.False(t, r.Cancelled)
		assert.Equal(t, "boom", r.Error)
		assert.Equal(t, n, r.RetryAttempts)
		assert.Equal(t, int32(n+1), capability.calls.Load())
	}
}

func TestRunSucceedsAfterRetry(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 3
	capability := newFake("fake", func(_ context.Context, call int32) (Outcome, error) {
		if call < 3 {
			return Failed("not yet", 0), nil
		}
		return Succeeded("third time", 0), nil
	})

	r := Run(context.Background(), capability, testContext("h", cfg))

	assert.True(t, r.Success)
	assert.Equal(t, 2, r.RetryAttempts)
	assert.Equal(t, "third time", r.Output)
	assert.Equal(t, int32(3), capability.calls.Load())
}

func TestRunUnsuccessfulOutcomeWithoutMessage(t *testing.T) {
	capability := newFake("fake", func(context.Context, int32) (Outcome, error) {
		return Outcome{}, nil
	})
	r := Run(context.Background(), capability, testContext("h", fastConfig()))
	assert.Equal(t, "capability reported failure", r.Error)
}

func TestRunTimeoutIsolated(t *testing.T) {
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryDelay = 5 * time.Millisecond
	capability := newFake("fake", func(context.Context, int32) (Outcome, error) {
		// Ignores ctx on purpose.
		time.Sleep(200 * time.Millisecond)
		return Succeeded("late", 0), nil
	})

	start := time.Now()
	r := Run(context.Background(), capability, testContext("h", cfg))
	elapsed := time.Since(start)

	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "timed out")
	assert.Equal(t, 2, r.RetryAttempts)
	assert.Less(t, elapsed, 180*time.Millisecond)
}

func TestRunTimeoutInline(t *testing.T) {
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.Isolated = false
	capability := newFake("fake", sleepFor(time.Second))

	r := Run(context.Background(), capability, testContext("h", cfg))

	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "timed out after 20ms")
	assert.Equal(t, int32(1), capability.calls.Load())
}

func TestRunTimeoutInlineIgnoresLateSuccess(t *testing.T) {
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.Isolated = false
	capability := newFake("fake", func(context.Context, int32) (Outcome, error) {
		time.Sleep(150 * time.Millisecond)
		return Succeeded("late", 150*time.Millisecond), nil
	})

	r := Run(context.Background(), capability, testContext("h", cfg))

	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "timed out after 20ms")
	assert.Equal(t, int32(1), capability.calls.Load())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	capability := newFake("fake", nil)
	ec := testContext("h", fastConfig())
	ec.Cancel()

	r := Run(context.Background(), capability, ec)

	assert.True(t, r.Cancelled)
	assert.False(t, r.Success)
	assert.Equal(t, StatusCancelled, r.Status())
	assert.Equal(t, int32(0), capability.calls.Load())
}

func TestRunCancelDuringRetryDelay(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 5
	cfg.RetryDelay = time.Hour
	ec := testContext("h", cfg)
	capability := newFake("fake", func(context.Context, int32) (Outcome, error) {
		ec.Cancel()
		return Failed("first", 0), nil
	})

	done := make(chan Result, 1)
	go func() { done <- Run(context.Background(), capability, ec) }()

	select {
	case r := <-done:
		assert.True(t, r.Cancelled)
		assert.Equal(t, 1, r.RetryAttempts)
		assert.Equal(t, int32(1), capability.calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the retry delay")
	}
}

func TestRunParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	capability := newFake("fake", nil)
	r := Run(ctx, capability, testContext("h", fastConfig()))

	assert.True(t, r.Cancelled)
	assert.Equal(t, int32(0), capability.calls.Load())
}

func TestRunRecoversPanic(t *testing.T) {
	for _, isolated := range []bool{true, false} {
		cfg := fastConfig()
		cfg.Isolated = isolated
		capability := newFake("fake", func(context.Context, int32) (Outcome, error) {
			panic("kaboom")
		})

		r := Run(context.Background(), capability, testContext("h", cfg))

		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "panicked")
		assert.Contains(t, r.Error, "kaboom")
	}
}

func TestResultErr(t *testing.T) {
	r := Result{HookID: "h", Error: "boom", RetryAttempts: 2}
	err := r.Err()
	require.Error(t, err)

	var execErr *hooks.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.Attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")

	assert.NoError(t, Result{Success: true}.Err())
	assert.NoError(t, Result{Cancelled: true}.Err())
}

func TestConfigFor(t *testing.T) {
	base := DefaultConfig()
	base.Isolated = false

	cfg := ConfigFor(hooks.Definition{
		Mode:       hooks.ModeBlocking,
		Priority:   hooks.PriorityHigh,
		Required:   true,
		MaxRetries: 2,
		Timeout:    5 * time.Second,
	}, base)

	assert.Equal(t, hooks.ModeBlocking, cfg.Mode)
	assert.Equal(t, hooks.PriorityHigh, cfg.Priority)
	assert.True(t, cfg.Required)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.False(t, cfg.Isolated)
	assert.Equal(t, 15*time.Second+time.Second, cfg.WorstCase())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, hooks.ModeAsync, cfg.Mode)
	assert.Equal(t, hooks.PriorityNormal, cfg.Priority)
	assert.False(t, cfg.Required)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.True(t, cfg.Isolated)
}
