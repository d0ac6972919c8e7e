package reports

import (
	"time"

	"github.com/stadtnetz/lorabulk/internal/bulk"
)

// Run is a persisted record of one bulk registration job.
type Run struct {
	ID              string     `json:"id"`
	SourceFile      string     `json:"source_file"`
	MACVersion      string     `json:"mac_version"`
	DuplicatePolicy string     `json:"duplicate_policy"`
	Concurrency     int        `json:"concurrency"`
	Total           int        `json:"total"`
	Succeeded       int        `json:"succeeded"`
	Skipped         int        `json:"skipped"`
	Failed          int        `json:"failed"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunDetail is a run together with its per-device outcomes.
type RunDetail struct {
	Run      Run            `json:"run"`
	Outcomes []bulk.Outcome `json:"outcomes"`
}
