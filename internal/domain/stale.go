package domain

import (
	"fmt"
	"time"
)

// StalePendingMessage is the failure reason stamped on jobs reaped out of
// the pending queue. The active threshold is rendered so deployments that
// override it don't report a misleading duration.
func StalePendingMessage(threshold time.Duration) string {
	return fmt.Sprintf("Job timed out - stuck in pending queue for over %s", humanDuration(threshold))
}

// StaleProcessingMessage is the failure reason for jobs reaped mid-processing.
func StaleProcessingMessage(threshold time.Duration) string {
	return fmt.Sprintf("Job timed out - processing took longer than %s to complete", humanDuration(threshold))
}

func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
