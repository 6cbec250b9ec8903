package model

import "time"

// AnalysisStatus is the lifecycle state of an Analysis.
//
//	pending ──▶ running ──▶ completed
//	   │           │
//	   └───────────┴──────▶ failed
type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusRunning   AnalysisStatus = "running"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether the analysis still occupies its project's slot.
func (s AnalysisStatus) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to AnalysisStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Failure reasons recorded on failed analyses.
const (
	FailureTimeout           = "timeout"
	FailureSourceUnavailable = "source_unavailable"
	FailureAnalyzer          = "analyzer_error"
	FailureScheduling        = "scheduling_failed"
	FailureInterrupted       = "interrupted"
)

// Scores holds the four category scores and the weighted overall score,
// each in [0, 100].
type Scores struct {
	Structure    float64 `json:"structure"`
	Quality      float64 `json:"quality"`
	Security     float64 `json:"security"`
	Dependencies float64 `json:"dependencies"`
	Overall      float64 `json:"overall"`
}

// Analysis is one scoring run over a project. Scores is nil unless Status is
// completed.
type Analysis struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"projectId"`
	Status        AnalysisStatus `json:"status"`
	Scores        *Scores        `json:"scores,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	IssueCount    int            `json:"issueCount"`
	CreatedAt     time.Time      `json:"createdAt"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// Report is the read-only projection of a completed analysis.
type Report struct {
	ProjectID   string           `json:"projectId"`
	AnalysisID  string           `json:"analysisId"`
	Scores      Scores           `json:"scores"`
	Issues      []Issue          `json:"issues"`
	ByCategory  map[Category]int `json:"byCategory"`
	BySeverity  map[Severity]int `json:"bySeverity"`
	CompletedAt time.Time        `json:"completedAt"`
}
