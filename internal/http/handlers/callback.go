package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"productshot/internal/job"
)

// callbackRequest is the result notification posted by the editing workflow.
type callbackRequest struct {
	JobID        string   `json:"jobId"`
	Status       string   `json:"status"`
	OutputImages []string `json:"outputImages"`
	ErrorMessage string   `json:"errorMessage"`
}

// Callback receives asynchronous results from the editing workflow. When a
// callback secret is configured the workflow must echo it in
// X-Callback-Token; without one the endpoint is open (trusted network).
func (a *App) Callback(w http.ResponseWriter, r *http.Request) {
	if secret := a.Config.CallbackSecret; secret != "" {
		token := r.Header.Get("X-Callback-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback token")
			return
		}
	}

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	err := a.Jobs.ApplyCallback(r.Context(), job.CallbackParams{
		JobID:        req.JobID,
		Status:       req.Status,
		OutputImages: req.OutputImages,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
