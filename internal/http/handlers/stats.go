package handlers

import (
	"net/http"

	"productshot/internal/domain"
)

// Stats returns per-status job counts for the authenticated user.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Jobs.Stats(r.Context(), a.currentUserID(r))
	if err != nil {
		a.respondError(w, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	a.json(w, http.StatusOK, map[string]int{
		"total":      total,
		"pending":    counts[domain.JobStatusPending],
		"processing": counts[domain.JobStatusProcessing],
		"completed":  counts[domain.JobStatusCompleted],
		"failed":     counts[domain.JobStatusFailed],
	})
}
