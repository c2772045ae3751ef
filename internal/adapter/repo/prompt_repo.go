package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"productshot/internal/domain"
)

// PromptPresetRepositoryPG implements domain.PromptPresetRepository.
type PromptPresetRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewPromptPresetRepository(pool *pgxpool.Pool) *PromptPresetRepositoryPG {
	return &PromptPresetRepositoryPG{pool: pool}
}

// ListActive returns active presets ordered by category, then display order.
func (r *PromptPresetRepositoryPG) ListActive(ctx context.Context) ([]domain.PromptPreset, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, name, description, prompt, category, icon, sort_order, is_active
FROM prompt_presets
WHERE is_active = TRUE
ORDER BY category ASC, sort_order ASC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presets []domain.PromptPreset
	for rows.Next() {
		var p domain.PromptPreset
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Prompt, &p.Category, &p.Icon, &p.Order, &p.IsActive); err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// CustomPromptRepositoryPG implements domain.CustomPromptRepository.
type CustomPromptRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewCustomPromptRepository(pool *pgxpool.Pool) *CustomPromptRepositoryPG {
	return &CustomPromptRepositoryPG{pool: pool}
}

func (r *CustomPromptRepositoryPG) ListByUser(ctx context.Context, userID string) ([]domain.CustomPrompt, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, name, description, prompt, category, created_at, updated_at
FROM custom_prompts
WHERE user_id = $1
ORDER BY created_at DESC;
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []domain.CustomPrompt
	for rows.Next() {
		var p domain.CustomPrompt
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Prompt, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (r *CustomPromptRepositoryPG) Create(ctx context.Context, prompt *domain.CustomPrompt) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO custom_prompts (id, user_id, name, description, prompt, category, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7);
`, prompt.ID, prompt.UserID, prompt.Name, prompt.Description, prompt.Prompt, prompt.Category, prompt.CreatedAt)
	return err
}

func (r *CustomPromptRepositoryPG) GetByID(ctx context.Context, id string) (*domain.CustomPrompt, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, user_id, name, description, prompt, category, created_at, updated_at
FROM custom_prompts
WHERE id = $1;
`, id)
	var p domain.CustomPrompt
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Prompt, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *CustomPromptRepositoryPG) Update(ctx context.Context, prompt *domain.CustomPrompt) error {
	_, err := r.pool.Exec(ctx, `
UPDATE custom_prompts
SET name = $2, description = $3, prompt = $4, category = $5, updated_at = NOW()
WHERE id = $1;
`, prompt.ID, prompt.Name, prompt.Description, prompt.Prompt, prompt.Category)
	return err
}

func (r *CustomPromptRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM custom_prompts WHERE id = $1;`, id)
	return err
}
