package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

// ReportAssembler projects the latest completed analysis into a Report.
// It only reads.
type ReportAssembler struct {
	projects repository.ProjectRepository
	analyses repository.AnalysisRepository
}

func NewReportAssembler(projects repository.ProjectRepository, analyses repository.AnalysisRepository) *ReportAssembler {
	return &ReportAssembler{projects: projects, analyses: analyses}
}

// GetReport looks only at the project's latest analysis: pending or running
// is NotReady, failed or missing is NotAvailable.
func (r *ReportAssembler) GetReport(ctx context.Context, userID, projectID string) (*model.Report, error) {
	if _, err := ownedProject(ctx, r.projects, userID, projectID); err != nil {
		return nil, err
	}

	a, err := r.analyses.LatestAnalysis(ctx, projectID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotAvailable("project has not been analyzed yet")
	}
	if err != nil {
		return nil, fmt.Errorf("service/report: loading latest analysis: %w", err)
	}

	switch a.Status {
	case model.StatusPending, model.StatusRunning:
		return nil, apperror.NotReady(fmt.Sprintf("analysis %s is %s", a.ID, a.Status))
	case model.StatusFailed:
		msg := "latest analysis failed"
		if a.FailureReason != "" {
			msg += ": " + a.FailureReason
		}
		return nil, apperror.NotAvailable(msg)
	}
	if a.Scores == nil || a.CompletedAt == nil {
		return nil, fmt.Errorf("service/report: completed analysis %s has no scores", a.ID)
	}

	issues, err := r.analyses.ListIssues(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("service/report: loading issues: %w", err)
	}
	model.SortIssues(issues)

	report := &model.Report{
		ProjectID:   projectID,
		AnalysisID:  a.ID,
		Scores:      *a.Scores,
		Issues:      issues,
		ByCategory:  make(map[model.Category]int, len(model.Categories)),
		BySeverity:  make(map[model.Severity]int, len(model.Severities)),
		CompletedAt: *a.CompletedAt,
	}
	for _, c := range model.Categories {
		report.ByCategory[c] = 0
	}
	for _, s := range model.Severities {
		report.BySeverity[s] = 0
	}
	for _, is := range issues {
		report.ByCategory[is.Category]++
		report.BySeverity[is.Severity]++
	}
	return report, nil
}
