package model

import "time"

// Source identifies which directory tree a load run walked.
type Source string

const (
	SourceCatalog Source = "catalog"
	SourceEvents  Source = "events"
)

// RunStatus represents the state of a load run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// LoadRun is one entry of the load log.
type LoadRun struct {
	ID          string     `json:"id"`
	Source      Source     `json:"source"`
	Root        string     `json:"root"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FilesTotal  int        `json:"files_total"`
	FilesDone   int        `json:"files_done"`
	RowsLoaded  int64      `json:"rows_loaded"`
	Error       string     `json:"error,omitempty"`
}

// RunResult holds the counters recorded when a load run finishes.
type RunResult struct {
	FilesDone  int   `json:"files_done"`
	RowsLoaded int64 `json:"rows_loaded"`
}
