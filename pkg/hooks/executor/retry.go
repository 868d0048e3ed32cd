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
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// Run executes one hook through its retry budget. Each attempt is bounded
// by Config.Timeout; failed attempts are retried after Config.RetryDelay
// until MaxRetries retries have been spent. Cancellation is checked before
// every attempt and interrupts retry delays, but never an attempt that has
// already started.
func Run(ctx context.Context, capability Capability, ec *ExecutionContext) Result {
	return run(ctx, capability, ec, slog.Default())
}

func run(ctx context.Context, capability Capability, ec *ExecutionContext, logger *slog.Logger) Result {
	start := time.Now()
	result := newResult(capability.Type(), ec)

	if ec.Cancelled() {
		result.Cancelled = true
		return result
	}

	cfg := ec.Config
	hookID := ec.Hook.Hook.ID
	attempts := 0
	var lastErr error

	for {
		if ec.Cancelled() || ctx.Err() != nil {
			result.Cancelled = true
			result.RetryAttempts = attempts
			result.Duration = time.Since(start)
			logger.Debug("Hook execution cancelled", "hook", hookID, "execution", ec.ID, "attempts", attempts)
			return result
		}

		outcome, err := attempt(ctx, capability, ec)
		if err == nil && outcome.Success {
			result.Success = true
			result.Output = outcome.Output
			result.RetryAttempts = attempts
			result.Duration = time.Since(start)
			return result
		}
		if err == nil {
			err = errors.New(outcomeError(outcome))
		}
		lastErr = err
		attempts++

		if attempts > cfg.MaxRetries {
			break
		}

		logger.Debug("Retrying hook",
			"hook", hookID,
			"attempt", attempts,
			"max_attempts", cfg.MaxRetries+1,
			"delay", cfg.RetryDelay,
			"error", err)

		if cfg.RetryDelay > 0 {
			timer := time.NewTimer(cfg.RetryDelay)
			select {
			case <-timer.C:
			case <-ec.Done():
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}

	if cfg.MaxRetries > 0 {
		logger.Warn("Hook retries exhausted", "error", &hooks.ExecutionError{HookID: hookID, Attempts: attempts, Err: lastErr})
	}

	result.Error = lastErr.Error()
	result.RetryAttempts = attempts - 1
	result.Duration = time.Since(start)
	return result
}

func outcomeError(o Outcome) string {
	if o.Error != "" {
		return o.Error
	}
	return "capability reported failure"
}

type attemptReply struct {
	outcome Outcome
	err     error
}

// attempt runs a single invocation bounded by the configured timeout.
// Isolated attempts race a separate goroutine against the deadline, so the
// call returns at the deadline even when the capability ignores ctx.
// A reply that arrives after the deadline counts as a timeout.
func attempt(ctx context.Context, capability Capability, ec *ExecutionContext) (Outcome, error) {
	timeout := ec.Config.Timeout
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	if !ec.Config.Isolated {
		reply := invoke(attemptCtx, capability, ec.Hook)
		if timedOut(ctx, attemptCtx) {
			return Outcome{}, timeoutError(timeout)
		}
		return reply.outcome, reply.err
	}

	replies := make(chan attemptReply, 1)
	go func() {
		replies <- invoke(attemptCtx, capability, ec.Hook)
	}()

	select {
	case reply := <-replies:
		if timedOut(ctx, attemptCtx) {
			return Outcome{}, timeoutError(timeout)
		}
		return reply.outcome, reply.err
	case <-attemptCtx.Done():
		if timedOut(ctx, attemptCtx) {
			return Outcome{}, timeoutError(timeout)
		}
		return Outcome{}, ctx.Err()
	}
}

// invoke calls the capability and converts a panic into a failed attempt.
func invoke(ctx context.Context, capability Capability, hc hooks.Context) (reply attemptReply) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Capability panicked", "capability", capability.Type(), "hook", hc.Hook.ID, "panic", r, "stack", string(debug.Stack()))
			reply = attemptReply{err: fmt.Errorf("capability %s panicked: %v", capability.Type(), r)}
		}
	}()
	outcome, err := capability.Execute(ctx, hc)
	return attemptReply{outcome: outcome, err: err}
}

func timedOut(parent, attemptCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
}

func timeoutError(timeout time.Duration) error {
	return fmt.Errorf("%w after %s", hooks.ErrTimeout, timeout)
}
