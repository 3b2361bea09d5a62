package models

import (
	"time"
)

// Status enumerates job lifecycle states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one silence-removal request. Snapshots returned to callers are copies.
type Job struct {
	ID         string    `json:"id"`
	InputPath  string    `json:"-"`
	OutputPath string    `json:"-"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	Attempts   int       `json:"attempts"`
	Message    string    `json:"message"`
	Category   string    `json:"category,omitempty"`
	LastError  *string   `json:"-"`
	Result     *Result   `json:"result,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Result is populated only when a job completes.
type Result struct {
	OriginalDuration float64 `json:"original_duration"`
	FinalDuration    float64 `json:"final_duration"`
	TimeSaved        float64 `json:"time_saved"`
	PercentageSaved  float64 `json:"percentage_saved"`
	SilencesRemoved  int     `json:"silences_removed"`
	PassThrough      bool    `json:"pass_through"`
	Codec            string  `json:"codec,omitempty"`
	Resolution       string  `json:"resolution,omitempty"`
	BitRate          int64   `json:"bit_rate,omitempty"`
	SizeBytes        int64   `json:"size_bytes,omitempty"`
	RemoteURL        string  `json:"remote_url,omitempty"`
}

// Event is an audit record of a job transition.
type Event struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}

// Audit event names.
const (
	EventSubmitted = "submitted"
	EventStarted   = "started"
	EventRetry     = "retry_scheduled"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventSwept     = "swept"
)
