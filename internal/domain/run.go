package domain

import "time"

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// TaskFullCollection is the task type of a regular collector cycle.
const TaskFullCollection = "full_collection"

// CollectionRun records the outcome of one collector cycle.
type CollectionRun struct {
	ID               string        `json:"id"`
	TaskType         string        `json:"task_type"`
	Status           RunStatus     `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	RecordsProcessed int           `json:"records_processed"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
}

// Notification is a user-facing message stored for new listings.
type Notification struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"` // info, success
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}
