package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities. Mutating methods that
// implement state transitions return whether the transition applied: they
// must only write when the row is still in the expected source state, so a
// false result means a concurrent writer got there first.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByUser(ctx context.Context, userID string) ([]Job, error)

	// pending -> processing
	MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) (bool, error)
	// pending -> failed (dispatch rejected, transport error, not configured)
	MarkDispatchFailed(ctx context.Context, jobID, reason string) (bool, error)
	// failed -> pending, clearing error/timestamps/output
	ResetForRetry(ctx context.Context, jobID string) (bool, error)
	// processing -> completed with output payload
	CompleteFromCallback(ctx context.Context, jobID string, output []byte, completedAt time.Time) (bool, error)
	// processing -> failed with callback error message
	FailFromCallback(ctx context.Context, jobID, reason string) (bool, error)
	// processing -> processing, overwriting output with partial results
	MergePartialOutput(ctx context.Context, jobID string, output []byte) (bool, error)
	// pending/processing older than threshold -> failed; returns reaped ids
	SweepStale(ctx context.Context, now time.Time, threshold time.Duration) ([]string, error)

	CountByStatus(ctx context.Context, userID string) (map[JobStatus]int, error)
}

// PromptPresetRepository serves the curated prompt catalog.
type PromptPresetRepository interface {
	ListActive(ctx context.Context) ([]PromptPreset, error)
}

// CustomPromptRepository handles persistence for user-authored prompts.
type CustomPromptRepository interface {
	ListByUser(ctx context.Context, userID string) ([]CustomPrompt, error)
	Create(ctx context.Context, prompt *CustomPrompt) error
	GetByID(ctx context.Context, id string) (*CustomPrompt, error)
	Update(ctx context.Context, prompt *CustomPrompt) error
	Delete(ctx context.Context, id string) error
}
