// api/schemas/status.go
package schemas

import "time"

// Step is the workflow position of an automation run.
type Step string

const (
	StepIdle           Step = "idle"
	StepAuthenticating Step = "authenticating"
	StepNavigating     Step = "navigating"
	StepProcessing     Step = "processing"
	StepCompleted      Step = "completed"
	StepError          Step = "error"
)

// RunStatus is the externally observable state of one automation run. Owned
// exclusively by the controller; callers only ever see value snapshots.
type RunStatus struct {
	RunID          string     `json:"run_id"`
	IsRunning      bool       `json:"is_running"`
	CurrentStep    Step       `json:"current_step"`
	ItemsProcessed uint       `json:"items_processed"`
	ItemsSucceeded uint       `json:"items_succeeded"`
	ItemLimit      uint       `json:"item_limit"`
	LastError      string     `json:"last_error,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
}

// CandidateItem is one entry of the growable list, discovered during a single
// pass and discarded after processing. ID is derived from the display name and
// on-screen ordinal and is only meaningful for within-run deduplication.
type CandidateItem struct {
	ID          string
	DisplayName string
	Metric      int
	Handle      ElementRef
}

// ProcessingResult is the outcome of one list-processing call. PartialFailures
// hold per-item soft failures and accompany Success=true; Error is only set
// when discovery or list growth aborted the whole call.
type ProcessingResult struct {
	Success         bool     `json:"success"`
	ItemsProcessed  uint     `json:"items_processed"`
	ItemsSucceeded  uint     `json:"items_succeeded"`
	PartialFailures []string `json:"partial_failures,omitempty"`
	Error           string   `json:"error,omitempty"`
}
