package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"productshot/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
//
// Every transition method is a single guarded UPDATE: the WHERE clause
// re-checks the expected source status so a concurrent callback, retry or
// sweep cannot clobber each other's writes. RowsAffected tells the caller
// whether the transition applied.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, status, prompt, prompt_type, preset_id, input_images, output_data,
product_name, product_category, product_sku, phone, notify_by_email, notification_sent,
error_message, created_at, started_at, completed_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	inputImages, err := json.Marshal(job.InputImages)
	if err != nil {
		return fmt.Errorf("marshal input images: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, status, prompt, prompt_type, preset_id, input_images,
	product_name, product_category, product_sku, phone, notify_by_email, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.Prompt,
		job.PromptType,
		job.PresetID,
		inputImages,
		nullableString(job.Product.Name),
		nullableString(job.Product.Category),
		nullableString(job.Product.SKU),
		job.Phone,
		job.NotifyByEmail,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByUser returns the user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkProcessing moves a pending job to processing and stamps started_at.
func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET status = $2, started_at = $3
WHERE id = $1 AND status = $4;
`, jobID, domain.JobStatusProcessing, startedAt, domain.JobStatusPending)
	return tag.RowsAffected() > 0, err
}

// MarkDispatchFailed fails a pending job whose work order never reached the workflow.
func (r *JobRepositoryPG) MarkDispatchFailed(ctx context.Context, jobID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET status = $2, error_message = $3
WHERE id = $1 AND status = $4;
`, jobID, domain.JobStatusFailed, reason, domain.JobStatusPending)
	return tag.RowsAffected() > 0, err
}

// ResetForRetry moves a failed job back to pending, clearing the previous run.
func (r *JobRepositoryPG) ResetForRetry(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET status = $2, error_message = NULL, started_at = NULL, completed_at = NULL, output_data = NULL
WHERE id = $1 AND status = $3;
`, jobID, domain.JobStatusPending, domain.JobStatusFailed)
	return tag.RowsAffected() > 0, err
}

// CompleteFromCallback finishes a processing job with the workflow's output.
func (r *JobRepositoryPG) CompleteFromCallback(ctx context.Context, jobID string, output []byte, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET status = $2, output_data = $3, completed_at = $4, error_message = NULL
WHERE id = $1 AND status = $5;
`, jobID, domain.JobStatusCompleted, output, completedAt, domain.JobStatusProcessing)
	return tag.RowsAffected() > 0, err
}

// FailFromCallback fails a processing job with the workflow's error message.
func (r *JobRepositoryPG) FailFromCallback(ctx context.Context, jobID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET status = $2, error_message = $3, output_data = NULL
WHERE id = $1 AND status = $4;
`, jobID, domain.JobStatusFailed, reason, domain.JobStatusProcessing)
	return tag.RowsAffected() > 0, err
}

// MergePartialOutput records incremental results without leaving processing.
func (r *JobRepositoryPG) MergePartialOutput(ctx context.Context, jobID string, output []byte) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET output_data = $2
WHERE id = $1 AND status = $3;
`, jobID, output, domain.JobStatusProcessing)
	return tag.RowsAffected() > 0, err
}

// SweepStale force-fails jobs stuck past the threshold. The two updates are
// independent so a failure on one class of stuck jobs does not block the
// other, and the status guard makes repeated sweeps idempotent.
func (r *JobRepositoryPG) SweepStale(ctx context.Context, now time.Time, threshold time.Duration) ([]string, error) {
	cutoff := now.Add(-threshold)
	var reaped []string

	ids, pendingErr := r.sweep(ctx, `
UPDATE jobs SET status = $1, error_message = $2, completed_at = $3
WHERE status = $4 AND created_at < $5
RETURNING id;
`, domain.JobStatusFailed, domain.StalePendingMessage(threshold), now, domain.JobStatusPending, cutoff)
	reaped = append(reaped, ids...)

	ids, processingErr := r.sweep(ctx, `
UPDATE jobs SET status = $1, error_message = $2, completed_at = $3
WHERE status = $4 AND started_at IS NOT NULL AND started_at < $5
RETURNING id;
`, domain.JobStatusFailed, domain.StaleProcessingMessage(threshold), now, domain.JobStatusProcessing, cutoff)
	reaped = append(reaped, ids...)

	if pendingErr != nil {
		return reaped, pendingErr
	}
	return reaped, processingErr
}

func (r *JobRepositoryPG) sweep(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns per-status job counts for one user.
func (r *JobRepositoryPG) CountByStatus(ctx context.Context, userID string) (map[domain.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs WHERE user_id = $1 GROUP BY status;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var inputImages []byte
	var productName, productCategory, productSKU *string
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.Prompt,
		&job.PromptType,
		&job.PresetID,
		&inputImages,
		&job.OutputData,
		&productName,
		&productCategory,
		&productSKU,
		&job.Phone,
		&job.NotifyByEmail,
		&job.NotificationSent,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputImages, &job.InputImages); err != nil {
		return nil, fmt.Errorf("unmarshal input images: %w", err)
	}
	job.Product.Name = derefString(productName)
	job.Product.Category = derefString(productCategory)
	job.Product.SKU = derefString(productSKU)
	return &job, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
