package models

import (
	"math"
	"time"
)

// AgentState is the execution state of one (user, agent) pair.
type AgentState string

const (
	AgentIdle    AgentState = "idle"
	AgentActive  AgentState = "active"
	AgentFailed  AgentState = "failed"
	AgentUnknown AgentState = "unknown"
)

// Valid reports whether s is a known agent state code.
func (s AgentState) Valid() bool {
	switch s {
	case AgentIdle, AgentActive, AgentFailed, AgentUnknown:
		return true
	}
	return false
}

// AgentStatus tracks the health and bookkeeping of one agent for one user.
// The agent executor is the only writer.
type AgentStatus struct {
	Base
	UserID              string     `gorm:"size:128;not null;uniqueIndex:uniq_agent_user" json:"user_id"`
	AgentName           string     `gorm:"size:128;not null;uniqueIndex:uniq_agent_user" json:"agent_name"`
	Status              AgentState `gorm:"size:16;not null" json:"status"`
	CurrentJobID        string     `gorm:"size:36" json:"current_job_id,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	LastActiveAt        *time.Time `json:"last_active_at,omitempty"`
	TotalExecutions     int64      `gorm:"not null;default:0" json:"total_executions"`
	ConsecutiveFailures int        `gorm:"not null;default:0" json:"consecutive_failures"`
	AvgDurationMS       float64    `gorm:"not null;default:0" json:"avg_duration_ms"`
}

// ewmaAlpha weights new samples in the rolling average duration.
const ewmaAlpha = 0.2

// ObserveDuration folds a new sample into the exponentially weighted moving
// average. The first sample is taken as-is.
func (a *AgentStatus) ObserveDuration(durationMS float64) {
	if a.TotalExecutions == 0 || a.AvgDurationMS == 0 {
		a.AvgDurationMS = durationMS
		return
	}
	a.AvgDurationMS = ewmaAlpha*durationMS + (1-ewmaAlpha)*a.AvgDurationMS
}

// TokenUsage is the language-model token consumption reported by a handler.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Total is the combined token count.
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// tokensPerCredit converts raw token counts into integer billing credits.
const tokensPerCredit = 100_000

// Credits converts the usage into whole credits, rounding up. Zero usage
// costs zero credits.
func (u TokenUsage) Credits() int64 {
	total := u.Total()
	if total <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(total) / float64(tokensPerCredit)))
}
