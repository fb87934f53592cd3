package model

import "time"

// Ingest run lifecycle states.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// IngestRun tracks one execution of the fetch-decode-persist-match
// pipeline. Exactly one run row is finalized per invocation.
type IngestRun struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`

	TotalThreads     int `json:"total_threads"`
	NewThreads       int `json:"new_threads"`
	UpdatedThreads   int `json:"updated_threads"`
	MatchedThreads   int `json:"matched_threads"`
	UnmatchedThreads int `json:"unmatched_threads"`

	// ErrorCount is the number of per-thread failures recorded while
	// the run kept processing. ErrorLog also holds non-counted entries
	// prefixed with "warn:" for degraded provider fetches.
	ErrorCount int      `json:"error_count"`
	ErrorLog   []string `json:"error_log"`
}

// IngestRunSummary is the caller-facing result of a completed run.
type IngestRunSummary struct {
	TotalThreads     int      `json:"total_threads"`
	NewThreads       int      `json:"new_threads"`
	UpdatedThreads   int      `json:"updated_threads"`
	MatchedThreads   int      `json:"matched_threads"`
	UnmatchedThreads int      `json:"unmatched_threads"`
	Errors           int      `json:"errors"`
	ErrorLog         []string `json:"error_log"`
}

// Summary converts a finalized run to its caller-facing form.
func (r *IngestRun) Summary() *IngestRunSummary {
	return &IngestRunSummary{
		TotalThreads:     r.TotalThreads,
		NewThreads:       r.NewThreads,
		UpdatedThreads:   r.UpdatedThreads,
		MatchedThreads:   r.MatchedThreads,
		UnmatchedThreads: r.UnmatchedThreads,
		Errors:           r.ErrorCount,
		ErrorLog:         r.ErrorLog,
	}
}
