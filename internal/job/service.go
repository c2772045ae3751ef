package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"productshot/internal/dispatch"
	"productshot/internal/domain"
	"productshot/internal/telemetry"
)

// MaxInputImages bounds how many input images a single job may carry.
const MaxInputImages = 10

// Dispatcher notifies the external editing workflow about a job.
type Dispatcher interface {
	Send(ctx context.Context, order dispatch.Order) dispatch.Outcome
}

// Service is the job lifecycle controller. It owns every status transition:
// handlers, the callback endpoint and the reaper all mutate jobs through it,
// never through the repository directly.
type Service struct {
	jobs       domain.JobRepository
	dispatcher Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(jobs domain.JobRepository, dispatcher Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		jobs:       jobs,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateParams collects inputs for a new job submission.
type CreateParams struct {
	UserID        string
	UserEmail     string
	Prompt        string
	PromptType    domain.PromptType
	PresetID      *string
	Phone         *string
	NotifyByEmail bool
	Product       domain.ProductMeta
	InputImages   []string
}

// Create persists a pending job, then dispatches it. Dispatch failures are
// absorbed into the job's status: the returned job may already be failed
// (or processing) but creation itself succeeded. The only error creation
// reports after the job exists is ErrDispatchNotConfigured, which is a
// deployment problem rather than a job outcome.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Job, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if p.PromptType != domain.PromptTypePreset && p.PromptType != domain.PromptTypeCustom {
		return nil, fmt.Errorf("%w: unknown prompt type %q", domain.ErrValidation, p.PromptType)
	}
	if len(p.InputImages) == 0 {
		return nil, fmt.Errorf("%w: at least one input image is required", domain.ErrValidation)
	}
	if len(p.InputImages) > MaxInputImages {
		return nil, fmt.Errorf("%w: at most %d input images", domain.ErrValidation, MaxInputImages)
	}

	job := &domain.Job{
		ID:            uuid.NewString(),
		UserID:        p.UserID,
		Status:        domain.JobStatusPending,
		Prompt:        p.Prompt,
		PromptType:    p.PromptType,
		PresetID:      p.PresetID,
		InputImages:   p.InputImages,
		Product:       p.Product,
		Phone:         p.Phone,
		NotifyByEmail: p.NotifyByEmail,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	telemetry.JobsCreated.Inc()
	s.logger.Info().Str("job_id", job.ID).Str("user_id", p.UserID).Msg("job created")

	dispatchErr := s.dispatchAndTrack(ctx, job, p.UserEmail)
	return s.reload(ctx, job, dispatchErr)
}

// Get returns a job after verifying the requester owns it.
func (s *Service) Get(ctx context.Context, jobID, requesterID string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != requesterID {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

// List returns the user's jobs, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Job, error) {
	return s.jobs.ListByUser(ctx, userID)
}

// Stats returns per-status job counts for the user.
func (s *Service) Stats(ctx context.Context, userID string) (map[domain.JobStatus]int, error) {
	return s.jobs.CountByStatus(ctx, userID)
}

// Retry resubmits a failed job with its original inputs. Only valid from
// failed; anything else is ErrInvalidStateTransition with no mutation.
func (s *Service) Retry(ctx context.Context, jobID, requesterID, userEmail string) (*domain.Job, error) {
	job, err := s.Get(ctx, jobID, requesterID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed {
		return nil, fmt.Errorf("%w: can only retry failed jobs", domain.ErrInvalidStateTransition)
	}

	applied, err := s.jobs.ResetForRetry(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reset job: %w", err)
	}
	if !applied {
		// Lost a race with a concurrent retry or sweep.
		return nil, fmt.Errorf("%w: job is no longer failed", domain.ErrInvalidStateTransition)
	}
	telemetry.JobsRetried.Inc()
	s.logger.Info().Str("job_id", jobID).Msg("job reset for retry")

	job.Status = domain.JobStatusPending
	dispatchErr := s.dispatchAndTrack(ctx, job, userEmail)
	return s.reload(ctx, job, dispatchErr)
}

// dispatchAndTrack sends the work order and applies the resulting transition.
// The guarded updates tolerate concurrent mutations: a transition that no
// longer matches the job's persisted status becomes a logged no-op.
func (s *Service) dispatchAndTrack(ctx context.Context, job *domain.Job, userEmail string) error {
	outcome := s.dispatcher.Send(ctx, dispatch.Order{
		JobID:     job.ID,
		UserID:    job.UserID,
		UserEmail: userEmail,
		ImageURLs: job.InputImages,
		Prompt:    job.Prompt,
		Product:   job.Product,
	})

	if outcome.Result == dispatch.Accepted {
		telemetry.DispatchAccepted.Inc()
		applied, err := s.jobs.MarkProcessing(ctx, job.ID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		if !applied {
			s.logger.Warn().Str("job_id", job.ID).Msg("job left pending before dispatch result landed")
		}
		return nil
	}

	telemetry.DispatchFailures.Inc()
	if _, err := s.jobs.MarkDispatchFailed(ctx, job.ID, outcome.Reason()); err != nil {
		return fmt.Errorf("mark dispatch failed: %w", err)
	}
	s.logger.Error().
		Str("job_id", job.ID).
		Str("result", outcome.Result.String()).
		Int("status", outcome.StatusCode).
		Msg("dispatch failed, job marked failed")

	if outcome.Result == dispatch.NotConfigured {
		return domain.ErrDispatchNotConfigured
	}
	return nil
}

func (s *Service) reload(ctx context.Context, job *domain.Job, dispatchErr error) (*domain.Job, error) {
	fresh, err := s.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return job, dispatchErr
	}
	return fresh, dispatchErr
}

// CallbackParams is the decoded result notification from the workflow.
type CallbackParams struct {
	JobID        string
	Status       string
	OutputImages []string
	ErrorMessage string
}

// ApplyCallback absorbs an out-of-band result from the editing workflow.
// Transitions are guarded; a callback racing a sweep (or a duplicate
// delivery) degrades to a no-op instead of corrupting a terminal state.
func (s *Service) ApplyCallback(ctx context.Context, p CallbackParams) error {
	if p.JobID == "" {
		return fmt.Errorf("%w: missing jobId", domain.ErrMalformedCallback)
	}
	if p.Status == "" {
		return fmt.Errorf("%w: missing status", domain.ErrMalformedCallback)
	}
	status := domain.JobStatus(p.Status)
	if status != domain.JobStatusCompleted && status != domain.JobStatusFailed && status != domain.JobStatusProcessing {
		return fmt.Errorf("%w: unknown status %q", domain.ErrMalformedCallback, p.Status)
	}

	if _, err := s.jobs.GetByID(ctx, p.JobID); err != nil {
		return err
	}
	// Only counted once the notification parsed as something we can apply.
	telemetry.CallbacksReceived.Inc()

	switch status {
	case domain.JobStatusCompleted:
		output := domain.NewOutputPayload(p.OutputImages, s.now())
		applied, err := s.jobs.CompleteFromCallback(ctx, p.JobID, output, s.now().UTC())
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		s.logCallback(p.JobID, "completed", applied)
		return nil

	case domain.JobStatusFailed:
		reason := p.ErrorMessage
		if reason == "" {
			reason = "Editing workflow reported a failure"
		}
		applied, err := s.jobs.FailFromCallback(ctx, p.JobID, reason)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		s.logCallback(p.JobID, "failed", applied)
		return nil

	default:
		// Partial results: refresh the gallery, keep the job processing.
		output := domain.NewOutputPayload(p.OutputImages, s.now())
		applied, err := s.jobs.MergePartialOutput(ctx, p.JobID, output)
		if err != nil {
			return fmt.Errorf("merge partial output: %w", err)
		}
		s.logCallback(p.JobID, "partial", applied)
		return nil
	}
}

func (s *Service) logCallback(jobID, kind string, applied bool) {
	if applied {
		s.logger.Info().Str("job_id", jobID).Str("callback", kind).Msg("callback applied")
		return
	}
	s.logger.Warn().Str("job_id", jobID).Str("callback", kind).Msg("callback ignored, job no longer in expected state")
}

// SweepStale force-fails jobs stuck in pending/processing past the
// threshold. Safe to run concurrently with callbacks and retries.
func (s *Service) SweepStale(ctx context.Context, now time.Time, threshold time.Duration) ([]string, error) {
	reaped, err := s.jobs.SweepStale(ctx, now.UTC(), threshold)
	if len(reaped) > 0 {
		telemetry.JobsReaped.Add(float64(len(reaped)))
		s.logger.Info().Int("count", len(reaped)).Msg("stale jobs marked failed")
	}
	if err != nil {
		return reaped, fmt.Errorf("sweep stale jobs: %w", err)
	}
	return reaped, nil
}
