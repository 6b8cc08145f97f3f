package models

import (
	"time"

	"github.com/uptrace/bun"
)

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncProcessing SyncStatus = "processing"
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s SyncStatus) Terminal() bool {
	return s == SyncSuccess || s == SyncFailed
}

// SyncTrigger records what started a sync run.
type SyncTrigger string

const (
	TriggerManual   SyncTrigger = "manual"
	TriggerSchedule SyncTrigger = "schedule"
	TriggerCLI      SyncTrigger = "cli"
)

// SyncRun is an append-only ledger entry describing one sync invocation.
type SyncRun struct {
	bun.BaseModel `bun:"table:grant_sync_runs,alias:sr"`

	ID               int64       `bun:"id,pk,autoincrement" json:"id"`
	RunID            string      `bun:"run_id,unique,notnull" json:"run_id"`
	FileName         string      `bun:"file_name,notnull,default:''" json:"file_name"`
	ExtractedDate    *time.Time  `bun:"extracted_date" json:"extracted_date,omitempty"`
	FileSize         int64       `bun:"file_size,notnull,default:0" json:"file_size"`
	Status           SyncStatus  `bun:"status,notnull" json:"status"`
	Trigger          SyncTrigger `bun:"triggered_by,notnull" json:"trigger"`
	RecordsProcessed int         `bun:"records_processed,notnull,default:0" json:"records_processed"`
	RecordsDeleted   int         `bun:"records_deleted,notnull,default:0" json:"records_deleted"`
	RecordsSkipped   int         `bun:"records_skipped,notnull,default:0" json:"records_skipped"`
	ErrorMessage     *string     `bun:"error_message" json:"error_message,omitempty"`
	StartedAt        time.Time   `bun:"started_at,notnull" json:"started_at"`
	CompletedAt      *time.Time  `bun:"completed_at" json:"completed_at,omitempty"`
	DurationMs       *int64      `bun:"duration_ms" json:"duration_ms,omitempty"`
	CreatedAt        time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Age returns how long the run has been going as of now.
func (r *SyncRun) Age(now time.Time) time.Duration {
	return now.Sub(r.StartedAt)
}

// IsStale reports whether a processing run has outlived timeout.
func (r *SyncRun) IsStale(now time.Time, timeout time.Duration) bool {
	return r.Status == SyncProcessing && r.Age(now) >= timeout
}
