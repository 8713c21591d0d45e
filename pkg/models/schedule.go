package models

import "time"

// Schedule submits a mission plan on a recurring cron cadence. Only the
// fixed cron vocabulary is recognized; unknown expressions run hourly.
type Schedule struct {
	Base
	UserID    string     `gorm:"size:128;not null;index" json:"user_id"`
	Name      string     `gorm:"size:256;not null" json:"name"`
	CronExpr  string     `gorm:"size:64;not null" json:"cron_expr"`
	Plan      Plan       `gorm:"type:text" json:"plan"`
	IsActive  bool       `gorm:"not null" json:"is_active"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}
