package models

import "time"

// AlertCondition compares a metric value against a rule threshold.
type AlertCondition string

const (
	ConditionGT  AlertCondition = "gt"
	ConditionGTE AlertCondition = "gte"
	ConditionLT  AlertCondition = "lt"
	ConditionLTE AlertCondition = "lte"
	ConditionEQ  AlertCondition = "eq"
)

// Valid reports whether c is a known condition code.
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionGT, ConditionGTE, ConditionLT, ConditionLTE, ConditionEQ:
		return true
	}
	return false
}

// Holds reports whether value satisfies the condition against threshold.
func (c AlertCondition) Holds(value, threshold float64) bool {
	switch c {
	case ConditionGT:
		return value > threshold
	case ConditionGTE:
		return value >= threshold
	case ConditionLT:
		return value < threshold
	case ConditionLTE:
		return value <= threshold
	case ConditionEQ:
		return value == threshold
	}
	return false
}

// Notification channel names configurable on a rule.
const (
	ChannelWebhook = "webhook"
	ChannelSlack   = "slack"
	ChannelEmail   = "email"
	ChannelInApp   = "in_app"
)

// AlertRule is a user-authored threshold predicate over one metric.
// The evaluator owns is_firing; everything else is user-managed.
type AlertRule struct {
	Base
	UserID        string         `gorm:"size:128;not null;index" json:"user_id"`
	Name          string         `gorm:"size:256;not null" json:"name"`
	Metric        string         `gorm:"size:64;not null" json:"metric"`
	Condition     AlertCondition `gorm:"size:8;not null" json:"condition"`
	Threshold     float64        `gorm:"not null" json:"threshold"`
	WindowMinutes int            `gorm:"not null;default:5" json:"window_minutes"`
	Channels      StringList     `gorm:"type:text" json:"channels"`
	WebhookIDs    StringList     `gorm:"type:text" json:"webhook_ids"`
	IsActive      bool           `gorm:"not null" json:"is_active"`
	IsFiring      bool           `gorm:"not null;default:false" json:"is_firing"`
	LastFiredAt   *time.Time     `json:"last_fired_at,omitempty"`
}

// AlertFiring is one open-to-resolved alert episode. A rule has at most one
// firing with a null resolved_at.
type AlertFiring struct {
	Base
	RuleID            string     `gorm:"size:36;not null;index" json:"rule_id"`
	UserID            string     `gorm:"size:128;not null;index" json:"user_id"`
	Metric            string     `gorm:"size:64;not null" json:"metric"`
	MetricValue       float64    `gorm:"not null" json:"metric_value"`
	Message           string     `gorm:"type:text" json:"message"`
	TriggeredAt       time.Time  `gorm:"not null" json:"triggered_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	NotificationsSent StringList `gorm:"type:text" json:"notifications_sent"`
}
