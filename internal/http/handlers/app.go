package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"productshot/internal/domain"
	"productshot/internal/infra"
	"productshot/internal/job"
	"productshot/internal/middleware"
	"productshot/internal/upload"
)

// App is the handler container wired up in main.
type App struct {
	Config        *infra.Config
	Logger        zerolog.Logger
	Jobs          *job.Service
	Uploads       *upload.Gateway
	Presets       domain.PromptPresetRepository
	CustomPrompts domain.CustomPromptRepository

	// HTTPClient fetches output images for the zip download endpoint.
	HTTPClient *http.Client
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, jobs *job.Service, uploads *upload.Gateway,
	presets domain.PromptPresetRepository, customPrompts domain.CustomPromptRepository) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Jobs:          jobs,
		Uploads:       uploads,
		Presets:       presets,
		CustomPrompts: customPrompts,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// respondError maps the domain error taxonomy to HTTP status codes.
func (a *App) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		a.error(w, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrMalformedCallback):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "you do not own this resource")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrUpload):
		a.error(w, http.StatusInternalServerError, "upload_failed", err.Error())
	case errors.Is(err, domain.ErrDispatchNotConfigured):
		a.error(w, http.StatusInternalServerError, "not_configured", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) currentUserEmail(r *http.Request) string {
	return middleware.UserEmailFromContext(r.Context())
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
