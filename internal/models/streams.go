package models

import "time"

// Priority orders jobs in the queue. High-priority jobs are always
// dequeued before normal ones.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
)

// StreamJob is one unit of OCR work for a single stream. Created by the
// coordinator, consumed exactly once by a worker, immutable after creation.
type StreamJob struct {
	JobID          string    `json:"job_id"`
	StreamKey      string    `json:"stream_key"`
	SessionID      string    `json:"session_id"`
	FrameSourceRef string    `json:"frame_source_ref"`
	Platform       string    `json:"platform"`
	Priority       Priority  `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// MonitoredStream is the coordinator's view of a discovery target. It is the
// single source of truth for whether a stream is currently a job-producing
// target.
type MonitoredStream struct {
	StreamKey      string    `json:"stream_key"`
	SessionID      string    `json:"session_id"`
	IsLive         bool      `json:"is_live"`
	ViewerCount    int       `json:"viewer_count"`
	FrameSourceRef string    `json:"frame_source_ref"`
	StartedAt      time.Time `json:"started_at"`
}

// LiveStatus is the discovery API's answer for a single target.
type LiveStatus struct {
	IsLive         bool   `json:"is_live"`
	ViewerCount    int    `json:"viewer_count"`
	FrameSourceRef string `json:"frame_source_ref"`
}

// StreamSession bounds one continuous broadcast's activity. BaselineBalance
// is rewritten when a deposit is detected so profit/loss is computed against
// the post-deposit balance.
type StreamSession struct {
	ID              string     `json:"id"`
	StreamKey       string     `json:"stream_key"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	BaselineBalance *float64   `json:"baseline_balance,omitempty"`
}
