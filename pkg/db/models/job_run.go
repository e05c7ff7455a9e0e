package models

import "time"

// JobRun persists the last start time of a throttled background job so the
// throttle survives restarts and is shared between instances.
type JobRun struct {
	Name      string    `gorm:"column:name;primaryKey"`
	LastRunAt time.Time `gorm:"column:last_run_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (JobRun) TableName() string { return "job_runs" }
