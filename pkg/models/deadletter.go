package models

import "time"

// DeadLetterEntry parks a job that exhausted retries or failed permanently.
// It snapshots enough of the job to replay it later.
type DeadLetterEntry struct {
	Base
	JobID         string     `gorm:"size:36;not null;index" json:"job_id"`
	Queue         string     `gorm:"size:128;not null" json:"queue"`
	JobType       string     `gorm:"size:128;not null" json:"job_type"`
	Payload       JSON       `gorm:"type:text" json:"payload"`
	FailureReason string     `gorm:"size:64" json:"failure_reason"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	UserID        string     `gorm:"size:128;index" json:"user_id"`
	EnteredAt     time.Time  `gorm:"not null" json:"entered_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Failure reasons recorded on dead letters.
const (
	FailureExhausted = "retries_exhausted"
	FailurePermanent = "permanent"
)
