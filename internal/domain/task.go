package domain

import "time"

type TaskKind string

const (
	TaskEnrichEmail    TaskKind = "enrich_email"
	TaskProcessBacklog TaskKind = "process_backlog"
)

// Task is the transport format sent to queue backends.
type Task struct {
	TaskID      string    `json:"task_id"`
	Kind        TaskKind  `json:"kind"`
	EmailID     string    `json:"email_id,omitempty"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
