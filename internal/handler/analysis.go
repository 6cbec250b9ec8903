package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/archon/internal/model"
)

// Analyses starts analyses and lists their history.
type Analyses interface {
	StartAnalysis(ctx context.Context, userID, projectID string) (*model.Analysis, bool, error)
	ListAnalyses(ctx context.Context, userID, projectID string) ([]model.Analysis, error)
}

// Reports reads the report of a project's latest analysis.
type Reports interface {
	GetReport(ctx context.Context, userID, projectID string) (*model.Report, error)
}

// AnalysisHandler triggers analyses and serves their results. Nothing here
// waits for an analysis: clients poll the project or the report.
type AnalysisHandler struct {
	analyses Analyses
	reports  Reports
	logger   *slog.Logger
}

func NewAnalysisHandler(analyses Analyses, reports Reports, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses, reports: reports, logger: logger}
}

// HandleAnalyze starts an analysis, or joins the one already in flight.
// 202 means a new analysis was queued, 200 that an existing one was
// returned.
//
// HTTP: POST /api/projects/{id}/analyze
func (h *AnalysisHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	a, created, err := h.analyses.StartAnalysis(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, a)
}

// HandleHistory lists the project's analyses, newest first.
//
// HTTP: GET /api/projects/{id}/analyses
func (h *AnalysisHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	list, err := h.analyses.ListAnalyses(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Analysis{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleReport returns the latest completed report. An analysis still in
// flight is 409 not_ready; none at all, or a failed one, is 404
// not_available.
//
// HTTP: GET /api/projects/{id}/report
func (h *AnalysisHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := h.reports.GetReport(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
