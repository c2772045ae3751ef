package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"productshot/internal/domain"
)

type presetView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	Category    string `json:"category"`
	Icon        string `json:"icon"`
	Order       int    `json:"order"`
}

func (a *App) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := a.Presets.ListActive(r.Context())
	if err != nil {
		a.respondError(w, err)
		return
	}
	views := make([]presetView, 0, len(presets))
	for _, p := range presets {
		views = append(views, presetView{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Prompt:      p.Prompt,
			Category:    p.Category,
			Icon:        p.Icon,
			Order:       p.Order,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"presets": views})
}

type customPromptView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toCustomPromptView(p *domain.CustomPrompt) customPromptView {
	return customPromptView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Prompt:      p.Prompt,
		Category:    p.Category,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type customPromptRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	Category    string `json:"category"`
}

func (a *App) ListCustomPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := a.CustomPrompts.ListByUser(r.Context(), a.currentUserID(r))
	if err != nil {
		a.respondError(w, err)
		return
	}
	views := make([]customPromptView, 0, len(prompts))
	for i := range prompts {
		views = append(views, toCustomPromptView(&prompts[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"prompts": views})
}

func (a *App) CreateCustomPrompt(w http.ResponseWriter, r *http.Request) {
	var req customPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "name and prompt are required")
		return
	}

	now := time.Now().UTC()
	prompt := &domain.CustomPrompt{
		ID:          uuid.NewString(),
		UserID:      a.currentUserID(r),
		Name:        req.Name,
		Description: req.Description,
		Prompt:      req.Prompt,
		Category:    req.Category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.CustomPrompts.Create(r.Context(), prompt); err != nil {
		a.respondError(w, err)
		return
	}
	a.json(w, http.StatusCreated, toCustomPromptView(prompt))
}

// ownedCustomPrompt loads a custom prompt and enforces ownership.
func (a *App) ownedCustomPrompt(r *http.Request) (*domain.CustomPrompt, error) {
	prompt, err := a.CustomPrompts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if prompt.UserID != a.currentUserID(r) {
		return nil, domain.ErrForbidden
	}
	return prompt, nil
}

func (a *App) UpdateCustomPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := a.ownedCustomPrompt(r)
	if err != nil {
		a.respondError(w, err)
		return
	}

	var req customPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Name != "" {
		prompt.Name = req.Name
	}
	if req.Description != "" {
		prompt.Description = req.Description
	}
	if req.Prompt != "" {
		prompt.Prompt = req.Prompt
	}
	if req.Category != "" {
		prompt.Category = req.Category
	}
	prompt.UpdatedAt = time.Now().UTC()

	if err := a.CustomPrompts.Update(r.Context(), prompt); err != nil {
		a.respondError(w, err)
		return
	}
	a.json(w, http.StatusOK, toCustomPromptView(prompt))
}

func (a *App) DeleteCustomPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := a.ownedCustomPrompt(r)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if err := a.CustomPrompts.Delete(r.Context(), prompt.ID); err != nil {
		a.respondError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}
