package model

import "time"

// JobPayload is the queue-resident body of a lead job.
type JobPayload struct {
	LeadID int64 `json:"leadId"`
}

// Job is one unit of queue work. Attempts counts deliveries consumed so far;
// the queue client rewrites the job on each failure.
type Job struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Data        JobPayload `json:"data"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastError   string     `json:"last_error,omitempty"`
}

// DLQEntry is the payload published to the dead-letter queue once a job's
// attempts are exhausted.
type DLQEntry struct {
	OriginalJobID string    `json:"originalJobId"`
	LeadID        int64     `json:"leadId"`
	Error         string    `json:"error"`
	AttemptsMade  int       `json:"attemptsMade"`
	FailedAt      time.Time `json:"failedAt"`
}
