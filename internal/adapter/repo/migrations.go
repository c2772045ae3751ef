package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		prompt TEXT NOT NULL,
		prompt_type TEXT NOT NULL,
		preset_id TEXT,
		input_images JSONB NOT NULL,
		output_data JSONB,
		product_name TEXT,
		product_category TEXT,
		product_sku TEXT,
		phone TEXT,
		notify_by_email BOOLEAN NOT NULL DEFAULT FALSE,
		notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS prompt_presets (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'other',
		icon TEXT NOT NULL DEFAULT '',
		sort_order INT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS custom_prompts (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'other',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_custom_prompts_user ON custom_prompts (user_id, created_at DESC)`,
}

// Migrate applies the schema idempotently. Statements use IF NOT EXISTS so
// repeated startups are safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
