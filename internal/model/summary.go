package model

import "time"

// RunStatus is the terminal state of one ingestion run
type RunStatus string

const (
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusCaughtUp       RunStatus = "CAUGHT_UP"
	RunStatusNotConfigured  RunStatus = "NOT_CONFIGURED"
	RunStatusBadCredential  RunStatus = "BAD_CREDENTIAL"
	RunStatusTransportError RunStatus = "TRANSPORT_ERROR"
	RunStatusStorageError   RunStatus = "STORAGE_ERROR"
	RunStatusPageLimit      RunStatus = "PAGE_LIMIT"
	RunStatusTimeout        RunStatus = "TIMEOUT"
	RunStatusLocked         RunStatus = "LOCKED"
)

// Failed reports whether the run ended on an error
func (s RunStatus) Failed() bool {
	switch s {
	case RunStatusCompleted, RunStatusCaughtUp, RunStatusPageLimit, RunStatusTimeout:
		return false
	default:
		return true
	}
}

// RunSummary reports the outcome of one ingestion run
type RunSummary struct {
	TaxpayerID  string    `json:"taxpayer_id"`
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	StartCursor string    `json:"start_cursor,omitempty"`
	FinalCursor string    `json:"final_cursor,omitempty"`
	Pages       int       `json:"pages"`
	Imported    int       `json:"imported"`
	Duplicates  int       `json:"duplicates"`
	Unparseable int       `json:"unparseable"`
	Events      int       `json:"events"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	Err error `json:"-"`
}

// Documents returns how many documents the run looked at
func (s *RunSummary) Documents() int {
	return s.Imported + s.Duplicates + s.Unparseable + s.Events
}

// Fail records a terminal error on the summary
func (s *RunSummary) Fail(status RunStatus, err error) {
	s.Status = status
	s.Err = err
	if err != nil {
		s.Error = err.Error()
	}
}
