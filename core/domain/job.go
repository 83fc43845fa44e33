package domain

import "time"

// JobStatus is the lifecycle state of a cache-preload job, the async
// counterpart to warm_cache's synchronous call.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// PreloadJob tracks one POST /cache/preload request: the HTTP handler
// returns its ID immediately (202), and a background worker drives it
// through Pending -> Running -> Completed|Failed while warming the cache
// from a usage-frequency source.
type PreloadJob struct {
	ID             int64
	Status         JobStatus
	RequestedCount int
	CompletedCount int
	SourceLang     string // optional filter; empty means "any"
	TargetLang     string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
