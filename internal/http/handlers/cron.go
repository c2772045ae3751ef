package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"
)

// SweepStale is a manual trigger for the staleness sweep, for deployments
// that drive the reaper from an external scheduler instead of the built-in
// ticker. Gated by CRON_SECRET when one is configured.
func (a *App) SweepStale(w http.ResponseWriter, r *http.Request) {
	if secret := a.Config.CronSecret; secret != "" {
		token := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(token), []byte("Bearer "+secret)) != 1 {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid cron token")
			return
		}
	}

	reaped, err := a.Jobs.SweepStale(r.Context(), time.Now(), a.Config.StaleThreshold)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if reaped == nil {
		reaped = []string{}
	}
	a.json(w, http.StatusOK, map[string]any{
		"reaped": reaped,
		"count":  len(reaped),
	})
}
