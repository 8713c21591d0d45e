package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// MissionStatus is the lifecycle state of a mission. Terminal statuses are
// set exactly once; a mission row is immutable after reaching one.
type MissionStatus string

const (
	MissionPending   MissionStatus = "PENDING"
	MissionRunning   MissionStatus = "RUNNING"
	MissionCompleted MissionStatus = "COMPLETED"
	MissionFailed    MissionStatus = "FAILED"
)

// Valid reports whether s is a known mission status code.
func (s MissionStatus) Valid() bool {
	switch s {
	case MissionPending, MissionRunning, MissionCompleted, MissionFailed:
		return true
	}
	return false
}

// Terminal reports whether the mission reached a final state.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionFailed
}

// Step is one agent invocation inside a mission plan. Dependencies reference
// other steps by agent name. An optional condition is evaluated against the
// outputs of completed dependencies before the step runs.
type Step struct {
	AgentName       string   `json:"agent_name"`
	Input           JSON     `json:"input,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	Condition       string   `json:"condition,omitempty"`
	ContinueOnError bool     `json:"continue_on_error,omitempty"`
}

// Plan is a declarative mission plan: a set of steps forming a DAG.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Value implements driver.Valuer.
func (p Plan) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *Plan) Scan(src any) error {
	return scanJSONColumn(src, p, "Plan")
}

// StepOutcome classifies a step transition in the audit trail.
type StepOutcome string

const (
	StepStarted   StepOutcome = "started"
	StepCompleted StepOutcome = "completed"
	StepFailed    StepOutcome = "failed"
	StepSkipped   StepOutcome = "skipped"
)

// AuditEntry is one line of a mission's execution trail.
type AuditEntry struct {
	StepName  string      `json:"step_name,omitempty"`
	Outcome   StepOutcome `json:"outcome,omitempty"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// AuditLog is the ordered execution trail persisted with a mission.
type AuditLog []AuditEntry

// Value implements driver.Valuer.
func (l AuditLog) Value() (driver.Value, error) {
	if l == nil {
		l = AuditLog{}
	}
	data, err := json.Marshal([]AuditEntry(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *AuditLog) Scan(src any) error {
	return scanJSONColumn(src, (*[]AuditEntry)(l), "AuditLog")
}

// Mission is a user-submitted plan executed as a DAG. The DAG executor is
// the only writer; total_cost always equals the sum of agent_costs.
type Mission struct {
	Base
	UserID     string        `gorm:"size:128;index" json:"user_id"`
	Status     MissionStatus `gorm:"size:16;not null;index" json:"status"`
	Plan       Plan          `gorm:"type:text" json:"plan"`
	Result     JSON          `gorm:"type:text" json:"result,omitempty"`
	Audit      AuditLog      `gorm:"type:text" json:"audit"`
	FailedStep string        `gorm:"size:128" json:"failed_step,omitempty"`
	TotalCost  int64         `gorm:"not null;default:0" json:"total_cost"`
	AgentCosts CostMap       `gorm:"type:text" json:"agent_costs"`
	TokensUsed int64         `gorm:"not null;default:0" json:"tokens_used"`
}
