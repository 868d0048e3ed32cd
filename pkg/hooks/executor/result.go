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
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// Status classifies a result. Cancelled takes precedence over failed, and
// failed over successful.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of one execution, across all of its attempts.
type Result struct {
	ExecutionID   string          `json:"execution_id"`
	HookID        string          `json:"hook_id"`
	Capability    string          `json:"capability"`
	Event         hooks.EventType `json:"event"`
	Mode          hooks.Mode      `json:"mode"`
	Required      bool            `json:"required"`
	Success       bool            `json:"success"`
	Cancelled     bool            `json:"cancelled"`
	Output        string          `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	Duration      time.Duration   `json:"duration"`
	RetryAttempts int             `json:"retry_attempts"`
	StartedAt     time.Time       `json:"started_at"`
}

// Status returns the classification of the result.
func (r Result) Status() Status {
	switch {
	case r.Cancelled:
		return StatusCancelled
	case !r.Success:
		return StatusFailed
	default:
		return StatusSuccess
	}
}

// Critical reports whether the result is a failure of a required hook.
func (r Result) Critical() bool {
	return r.Status() == StatusFailed && r.Required
}

// Err returns the failure as an ExecutionError, or nil unless the result
// failed.
func (r Result) Err() error {
	if r.Status() != StatusFailed {
		return nil
	}
	return &hooks.ExecutionError{HookID: r.HookID, Attempts: r.RetryAttempts + 1, Err: errors.New(r.Error)}
}

func newResult(capability string, ec *ExecutionContext) Result {
	return Result{
		ExecutionID: ec.ID,
		HookID:      ec.Hook.Hook.ID,
		Capability:  capability,
		Event:       ec.Hook.Event.Type,
		Mode:        ec.Config.Mode,
		Required:    ec.Config.Required,
		StartedAt:   ec.StartedAt,
	}
}

// AggregatedResult rolls up the tracked results of a batch or a trigger.
type AggregatedResult struct {
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Cancelled       int           `json:"cancelled"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	Results         []Result      `json:"results"`
}

// Aggregate classifies results and computes durations.
func Aggregate(results []Result) AggregatedResult {
	agg := AggregatedResult{
		Total:   len(results),
		Results: results,
	}
	for _, r := range results {
		switch r.Status() {
		case StatusCancelled:
			agg.Cancelled++
		case StatusFailed:
			agg.Failed++
		default:
			agg.Successful++
		}
		agg.TotalDuration += r.Duration
	}
	if agg.Total > 0 {
		agg.AverageDuration = agg.TotalDuration / time.Duration(agg.Total)
	}
	return agg
}

// Merge combines two aggregates.
func (a AggregatedResult) Merge(other AggregatedResult) AggregatedResult {
	results := make([]Result, 0, len(a.Results)+len(other.Results))
	results = append(results, a.Results...)
	results = append(results, other.Results...)
	return Aggregate(results)
}

// SuccessRate returns successes/total, or 0 for an empty aggregate.
func (a AggregatedResult) SuccessRate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Successful) / float64(a.Total)
}

// HasCriticalFailures reports whether any required hook failed without
// being cancelled.
func (a AggregatedResult) HasCriticalFailures() bool {
	for _, r := range a.Results {
		if r.Critical() {
			return true
		}
	}
	return false
}

// CriticalFailures returns the failed required results.
func (a AggregatedResult) CriticalFailures() []Result {
	var out []Result
	for _, r := range a.Results {
		if r.Critical() {
			out = append(out, r)
		}
	}
	return out
}

// Summary renders a one-line description for logs.
func (a AggregatedResult) Summary() string {
	return fmt.Sprintf("Executed %d hooks: %d successful, %d failed, %d cancelled (success rate: %.1f%%)",
		a.Total, a.Successful, a.Failed, a.Cancelled, a.SuccessRate()*100)
}
