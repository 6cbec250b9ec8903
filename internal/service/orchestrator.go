package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
	"github.com/sakif/archon/internal/worker"
)

// DefaultAnalysisTimeout bounds one analysis from source load to scores.
const DefaultAnalysisTimeout = 10 * time.Minute

// failWriteTimeout bounds the status write after a job was cancelled.
const failWriteTimeout = 5 * time.Second

// AnalysisOrchestrator is the only writer of analysis status.
//
// A project has at most one pending or running analysis. Starting again
// while one is in flight joins it instead of creating a second. Failed
// analyses are kept as history and never retried automatically.
type AnalysisOrchestrator struct {
	projects repository.ProjectRepository
	analyses repository.AnalysisRepository
	sources  SourceProvider
	analyzer Analyzer
	queue    JobQueue
	timeout  time.Duration
	logger   *slog.Logger
}

func NewAnalysisOrchestrator(
	projects repository.ProjectRepository,
	analyses repository.AnalysisRepository,
	sources SourceProvider,
	analyzer Analyzer,
	queue JobQueue,
	timeout time.Duration,
	logger *slog.Logger,
) *AnalysisOrchestrator {
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	return &AnalysisOrchestrator{
		projects: projects,
		analyses: analyses,
		sources:  sources,
		analyzer: analyzer,
		queue:    queue,
		timeout:  timeout,
		logger:   logger,
	}
}

// StartAnalysis returns the project's in-flight analysis, or creates a
// pending one and queues it. created reports which happened. It never
// waits for the analysis itself.
//
// When the queue refuses the job the new analysis is failed with
// scheduling_failed and returned as such.
func (o *AnalysisOrchestrator) StartAnalysis(ctx context.Context, userID, projectID string) (*model.Analysis, bool, error) {
	p, err := ownedProject(ctx, o.projects, userID, projectID)
	if err != nil {
		return nil, false, err
	}

	a, created, err := o.analyses.StartOrJoinAnalysis(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("service/orchestrator: starting analysis: %w", err)
	}
	log := o.logger.With(slog.String("projectID", p.ID), slog.String("analysisID", a.ID))
	if !created {
		log.Info("analysis already in flight, joining", slog.String("status", string(a.Status)))
		return a, false, nil
	}

	analysisID := a.ID
	err = o.queue.Submit(worker.Job{
		Name: "analysis " + analysisID,
		Run: func(ctx context.Context) {
			o.run(ctx, p, analysisID)
		},
	})
	if err != nil {
		log.Warn("analysis could not be scheduled", slog.String("error", err.Error()))
		if ferr := o.analyses.FailAnalysis(ctx, analysisID, model.FailureScheduling); ferr != nil {
			return nil, true, fmt.Errorf("service/orchestrator: failing unscheduled analysis: %w", ferr)
		}
		failed, gerr := o.analyses.GetAnalysis(ctx, analysisID)
		if gerr != nil {
			return nil, true, fmt.Errorf("service/orchestrator: reloading analysis: %w", gerr)
		}
		return failed, true, nil
	}

	log.Info("analysis queued")
	return a, true, nil
}

// run is the worker side: pending → running → completed | failed.
func (o *AnalysisOrchestrator) run(ctx context.Context, p *model.Project, analysisID string) {
	log := o.logger.With(slog.String("projectID", p.ID), slog.String("analysisID", analysisID))

	if err := o.analyses.MarkRunning(ctx, analysisID); err != nil {
		log.Error("failed to mark analysis running", slog.String("error", err.Error()))
		o.fail(ctx, log, analysisID, failureReason(ctx, ctx, model.FailureScheduling), err)
		return
	}
	log.Info("analysis started")
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	snap, err := o.sources.Load(runCtx, p)
	if err != nil {
		o.fail(ctx, log, analysisID, failureReason(ctx, runCtx, model.FailureSourceUnavailable), err)
		return
	}

	res, err := o.analyzer.Analyze(runCtx, snap)
	if err != nil {
		o.fail(ctx, log, analysisID, failureReason(ctx, runCtx, model.FailureAnalyzer), err)
		return
	}

	if err := o.analyses.CompleteAnalysis(ctx, analysisID, res.Scores, res.Issues); err != nil {
		o.fail(ctx, log, analysisID, failureReason(ctx, runCtx, model.FailureAnalyzer), err)
		return
	}

	log.Info("analysis completed",
		slog.Float64("overall", res.Scores.Overall),
		slog.Int("issues", len(res.Issues)),
		slog.Int("files", len(snap.Files)),
		slog.Duration("duration", time.Since(start)),
	)
}

// failureReason classifies a job error: shutdown first, then our own
// deadline, then the step that failed.
func failureReason(parent, runCtx context.Context, step string) string {
	if parent.Err() != nil {
		return model.FailureInterrupted
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	return step
}

func (o *AnalysisOrchestrator) fail(ctx context.Context, log *slog.Logger, analysisID, reason string, cause error) {
	log.Warn("analysis failed",
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	// The job context may already be cancelled; the failure must still land.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if err := o.analyses.FailAnalysis(wctx, analysisID, reason); err != nil {
		log.Error("failed to record analysis failure", slog.String("error", err.Error()))
	}
}

// ListAnalyses returns the project's history, newest first.
func (o *AnalysisOrchestrator) ListAnalyses(ctx context.Context, userID, projectID string) ([]model.Analysis, error) {
	if _, err := ownedProject(ctx, o.projects, userID, projectID); err != nil {
		return nil, err
	}
	list, err := o.analyses.ListAnalyses(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("service/orchestrator: listing analyses: %w", err)
	}
	if list == nil {
		list = []model.Analysis{}
	}
	return list, nil
}

// RecoverInterrupted fails every analysis a previous process left pending
// or running. Call it once at startup, before the worker pool accepts jobs.
func (o *AnalysisOrchestrator) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := o.analyses.FailInFlight(ctx, model.FailureInterrupted)
	if err != nil {
		return 0, fmt.Errorf("service/orchestrator: recovering: %w", err)
	}
	if n > 0 {
		o.logger.Warn("failed analyses interrupted by restart", slog.Int64("count", n))
	}
	return n, nil
}
