package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// PromptType tags where a job's instruction text came from.
type PromptType string

const (
	PromptTypePreset PromptType = "preset"
	PromptTypeCustom PromptType = "custom"
)

// ProductMeta carries optional free-form product metadata forwarded to the
// editing workflow. Empty fields are omitted from the dispatch payload.
type ProductMeta struct {
	Name     string
	Category string
	SKU      string
}

// Job encapsulates one image-editing request and its tracked lifecycle.
// InputImages is fixed at creation; Status only moves through the guarded
// transitions in the job service.
type Job struct {
	ID               string
	UserID           string
	Status           JobStatus
	Prompt           string
	PromptType       PromptType
	PresetID         *string
	InputImages      []string
	OutputData       []byte // raw JSONB payload, nil until results arrive
	Product          ProductMeta
	Phone            *string
	NotifyByEmail    bool
	NotificationSent bool
	ErrorMessage     *string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// OutputPayload is the canonical shape stored in Job.OutputData.
type OutputPayload struct {
	Images    []string  `json:"images"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOutputPayload marshals the canonical output shape. An empty image list
// still produces a non-null payload so a completed job never reads back
// without output data.
func NewOutputPayload(images []string, now time.Time) []byte {
	if images == nil {
		images = []string{}
	}
	raw, _ := json.Marshal(OutputPayload{Images: images, Timestamp: now.UTC()})
	return raw
}

// NormalizeOutput decodes stored output data. Older rows hold a bare string
// array instead of the canonical object; both shapes are accepted and
// canonicalized here so the rest of the service only sees OutputPayload.
func NormalizeOutput(raw []byte) (*OutputPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var payload OutputPayload
	if err := json.Unmarshal(raw, &payload); err == nil {
		return &payload, nil
	}
	var images []string
	if err := json.Unmarshal(raw, &images); err == nil {
		return &OutputPayload{Images: images}, nil
	}
	return nil, errors.New("unrecognized output data shape")
}

// OutputImages returns the job's output image list, or nil when no output
// has been recorded or the stored payload is unreadable.
func (j *Job) OutputImages() []string {
	payload, err := NormalizeOutput(j.OutputData)
	if err != nil || payload == nil {
		return nil
	}
	return payload.Images
}

// Terminal reports whether the status is an end state. Failed jobs are still
// re-enterable through retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the four known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
