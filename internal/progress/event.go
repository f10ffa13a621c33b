// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that pipeline stages use to report research progress.
// Events are batched on a background goroutine and fanned out to pluggable
// sinks such as Prometheus metrics or a Pub/Sub topic.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported progress event kinds.
const (
	KindJobStart     Kind = "JOB_START"
	KindStageStart   Kind = "STAGE_START"
	KindStageDone    Kind = "STAGE_DONE"
	KindCategoryDone Kind = "CATEGORY_DONE"
	KindJobDone      Kind = "JOB_DONE"
	KindJobError     Kind = "JOB_ERROR"
)

// Event captures a single milestone of a research job.
type Event struct {
	// JobID identifies the job the milestone belongs to.
	JobID string `json:"job_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Kind denotes which lifecycle milestone occurred.
	Kind Kind `json:"kind"`
	// Stage is the pipeline stage name for stage events.
	Stage string `json:"stage,omitempty"`
	// Category scopes CATEGORY_DONE events to one analysis category.
	Category string `json:"category,omitempty"`
	// Result is "success" or "error" for terminal milestones.
	Result string `json:"result,omitempty"`
	// Dur captures wall time for stage and job completions.
	Dur time.Duration `json:"dur,omitempty"`
	// PromptTokens and CompletionTokens count completion-service usage
	// attributable to this milestone.
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	// Cost is the estimated completion-service spend in dollars.
	Cost float64 `json:"cost,omitempty"`
	// Note carries low-volume debug context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJobStart, KindJobDone, KindJobError:
	case KindStageStart, KindStageDone:
		if e.Stage == "" {
			return errors.New("stage events require a stage name")
		}
	case KindCategoryDone:
		if e.Category == "" {
			return errors.New("category done requires a category")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a job's lifecycle.
func (e Event) Terminal() bool {
	return e.Kind == KindJobDone || e.Kind == KindJobError
}
