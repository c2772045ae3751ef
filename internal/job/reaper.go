package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically sweeps for jobs stuck in pending or processing and
// force-fails them. It is server-owned: no client session needs to be open
// for stuck jobs to get cleaned up.
type Reaper struct {
	svc       *Service
	interval  time.Duration
	threshold time.Duration
	logger    zerolog.Logger
}

func NewReaper(svc *Service, interval, threshold time.Duration, logger zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if threshold <= 0 {
		threshold = time.Hour
	}
	return &Reaper{svc: svc, interval: interval, threshold: threshold, logger: logger}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Sweep errors are logged and the loop keeps going; a broken sweep must not
// take the reaper down with it.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info().
		Dur("interval", r.interval).
		Dur("threshold", r.threshold).
		Msg("reaper: started")

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reaper: stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	reaped, err := r.svc.SweepStale(ctx, time.Now(), r.threshold)
	if err != nil {
		r.logger.Error().Err(err).Msg("reaper: sweep failed")
	}
	if len(reaped) > 0 {
		r.logger.Info().Strs("job_ids", reaped).Msg("reaper: reaped stale jobs")
	}
}
