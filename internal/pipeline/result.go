package pipeline

import (
	"time"

	"github.com/mkoziy/grants/syncer/internal/models"
)

// Options controls a single run.
type Options struct {
	Trigger models.SyncTrigger
	// Force processes the extract even when it was already synced.
	Force bool
	// SourceURL bypasses extract discovery when set.
	SourceURL string
}

// Result is returned to whoever triggered the run.
type Result struct {
	Success          bool       `json:"success"`
	RunID            string     `json:"runId"`
	FileName         string     `json:"fileName"`
	FileSize         int64      `json:"fileSize"`
	ExtractedDate    *time.Time `json:"extractedDate"`
	RecordsProcessed int        `json:"recordsProcessed"`
	RecordsDeleted   int        `json:"recordsDeleted"`
	RecordsSkipped   int        `json:"recordsSkipped"`
	Skipped          bool       `json:"skipped"`
	DurationMs       int64      `json:"durationMs"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
}

// Status summarises the store and the ledger.
type Status struct {
	TotalOpportunities  int               `json:"totalOpportunities"`
	ActiveOpportunities int               `json:"activeOpportunities"`
	CheckedAt           time.Time         `json:"checkedAt"`
	LastSuccess         *models.SyncRun   `json:"lastSuccess,omitempty"`
	Live                *models.SyncRun   `json:"live,omitempty"`
	Recent              []*models.SyncRun `json:"recent"`
}
