package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

var _ repository.AnalysisRepository = (*DB)(nil)

const analysisColumns = `a.id, a.project_id, a.status, a.structure_score, a.quality_score,
	a.security_score, a.dependencies_score, a.overall_score, a.failure_reason,
	(SELECT COUNT(*) FROM issues i WHERE i.analysis_id = a.id),
	a.created_at, a.started_at, a.completed_at`

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StartOrJoinAnalysis implements the idempotent-join policy: an in-flight
// analysis is returned as is; otherwise a new pending row is inserted and
// becomes the project's latest analysis.
func (db *DB) StartOrJoinAnalysis(ctx context.Context, projectID string) (*model.Analysis, bool, error) {
	var (
		result  *model.Analysis
		created bool
	)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getAnalysis(ctx, tx,
			`WHERE a.project_id = ? AND a.status IN ('pending', 'running') ORDER BY a.seq DESC LIMIT 1`,
			projectID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("looking up in-flight analysis: %w", err)
		}

		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, projectID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("project", projectID)
			}
			return fmt.Errorf("checking project: %w", err)
		}

		a := &model.Analysis{
			ID:        xid.New().String(),
			ProjectID: projectID,
			Status:    model.StatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analyses (id, project_id, seq, status, created_at)
			 SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, 'pending', ? FROM analyses WHERE project_id = ?`,
			a.ID, a.ProjectID, a.CreatedAt, a.ProjectID,
		); err != nil {
			return fmt.Errorf("inserting analysis: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET last_analysis_id = ? WHERE id = ?`, a.ID, projectID,
		); err != nil {
			return fmt.Errorf("updating latest analysis: %w", err)
		}
		result, created = a, true
		return nil
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("sqlite: starting analysis for project %s: %w", projectID, err)
	}
	return result, created, nil
}

// MarkRunning moves a pending analysis to running.
func (db *DB) MarkRunning(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE analyses SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: marking analysis %s running: %w", id, err)
	}
	return db.checkTransition(ctx, db.conn, res, id, model.StatusRunning)
}

// CompleteAnalysis writes scores, inserts every issue and stamps completion
// in one transaction. Nothing is written unless all of it succeeds.
func (db *DB) CompleteAnalysis(ctx context.Context, id string, scores model.Scores, issues []model.Issue) error {
	for i := range issues {
		if err := issues[i].Validate(); err != nil {
			return apperror.ValidationFailed("issues", fmt.Sprintf("issue %d: %v", i, err))
		}
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE analyses SET
				status = 'completed',
				structure_score = ?, quality_score = ?, security_score = ?,
				dependencies_score = ?, overall_score = ?,
				completed_at = ?
			 WHERE id = ? AND status = 'running'`,
			scores.Structure, scores.Quality, scores.Security,
			scores.Dependencies, scores.Overall,
			time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("updating analysis: %w", err)
		}
		if err := db.checkTransition(ctx, tx, res, id, model.StatusCompleted); err != nil {
			return err
		}

		if len(issues) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO issues
				(id, analysis_id, category, severity, tool, rule_id, title, description, file_path,
				 line_number, start_line, end_line, start_column, end_column,
				 confidence, fix_suggestion, more_info_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing issue insert: %w", err)
		}
		defer stmt.Close()

		for i := range issues {
			is := &issues[i]
			is.ID = xid.New().String()
			is.AnalysisID = id
			if _, err := stmt.ExecContext(ctx,
				is.ID, is.AnalysisID, string(is.Category), string(is.Severity), is.Tool, is.RuleID,
				is.Title, is.Description, is.FilePath,
				nullInt(is.LineNumber), nullInt(is.StartLine), nullInt(is.EndLine),
				nullInt(is.StartColumn), nullInt(is.EndColumn),
				is.Confidence, is.FixSuggestion, is.MoreInfoURL,
			); err != nil {
				return fmt.Errorf("inserting issue %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("sqlite: completing analysis %s: %w", id, err)
	}
	return nil
}

// FailAnalysis moves a pending or running analysis to failed. Scores stay
// NULL.
func (db *DB) FailAnalysis(ctx context.Context, id, reason string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE analyses SET status = 'failed', failure_reason = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'running')`,
		reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failing analysis %s: %w", id, err)
	}
	return db.checkTransition(ctx, db.conn, res, id, model.StatusFailed)
}

func (db *DB) FailInFlight(ctx context.Context, reason string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE analyses SET status = 'failed', failure_reason = ?, completed_at = ?
		 WHERE status IN ('pending', 'running')`,
		reason, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: failing in-flight analyses: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (db *DB) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	a, err := getAnalysis(ctx, db.conn, `WHERE a.id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("analysis", id)
		}
		return nil, fmt.Errorf("sqlite: getting analysis %s: %w", id, err)
	}
	return a, nil
}

// LatestAnalysis returns the most recently created analysis of the project.
func (db *DB) LatestAnalysis(ctx context.Context, projectID string) (*model.Analysis, error) {
	a, err := getAnalysis(ctx, db.conn, `WHERE a.project_id = ? ORDER BY a.seq DESC LIMIT 1`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("analysis for project", projectID)
		}
		return nil, fmt.Errorf("sqlite: getting latest analysis of %s: %w", projectID, err)
	}
	return a, nil
}

// ListAnalyses returns the project's analysis history, newest first.
func (db *DB) ListAnalyses(ctx context.Context, projectID string) ([]model.Analysis, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses a WHERE a.project_id = ? ORDER BY a.seq DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing analyses of %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		var r nullableAnalysisRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("sqlite: scanning analysis: %w", err)
		}
		out = append(out, *r.toModel())
	}
	return out, rows.Err()
}

func (db *DB) ListIssues(ctx context.Context, analysisID string) ([]model.Issue, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, analysis_id, category, severity, tool, rule_id, title, description, file_path,
			line_number, start_line, end_line, start_column, end_column,
			confidence, fix_suggestion, more_info_url
		 FROM issues WHERE analysis_id = ?`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing issues of %s: %w", analysisID, err)
	}
	defer rows.Close()

	issues := []model.Issue{}
	for rows.Next() {
		var (
			is                               model.Issue
			category, severity               string
			line, startL, endL, startC, endC sql.NullInt64
		)
		if err := rows.Scan(
			&is.ID, &is.AnalysisID, &category, &severity, &is.Tool, &is.RuleID,
			&is.Title, &is.Description, &is.FilePath,
			&line, &startL, &endL, &startC, &endC,
			&is.Confidence, &is.FixSuggestion, &is.MoreInfoURL,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning issue: %w", err)
		}
		is.Category = model.Category(category)
		is.Severity = model.Severity(severity)
		is.LineNumber = intPtr(line)
		is.StartLine = intPtr(startL)
		is.EndLine = intPtr(endL)
		is.StartColumn = intPtr(startC)
		is.EndColumn = intPtr(endC)
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// checkTransition turns a zero-row guarded UPDATE into NotFound (no such
// analysis) or Conflict (the analysis is in a state that forbids the move).
func (db *DB) checkTransition(ctx context.Context, q queryRower, res sql.Result, id string, to model.AnalysisStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var current string
	err = q.QueryRowContext(ctx, `SELECT status FROM analyses WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("analysis", id)
	}
	if err != nil {
		return fmt.Errorf("sqlite: reading analysis status: %w", err)
	}
	return &apperror.AppError{
		Err:     apperror.ErrConflict,
		Message: fmt.Sprintf("analysis %s cannot move from %s to %s", id, current, to),
	}
}

func getAnalysis(ctx context.Context, q queryRower, where string, args ...any) (*model.Analysis, error) {
	var r nullableAnalysisRow
	if err := q.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses a `+where, args...,
	).Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

// nullableAnalysisRow scans an analyses row, including the all-NULL row a
// LEFT JOIN produces for a project that was never analyzed.
type nullableAnalysisRow struct {
	id, projectID, status, failureReason sql.NullString
	structure, quality, security         sql.NullFloat64
	dependencies, overall                sql.NullFloat64
	issueCount                           sql.NullInt64
	createdAt, startedAt, completedAt    sql.NullTime
}

func (r *nullableAnalysisRow) dest() []any {
	return []any{
		&r.id, &r.projectID, &r.status, &r.structure, &r.quality,
		&r.security, &r.dependencies, &r.overall, &r.failureReason,
		&r.issueCount,
		&r.createdAt, &r.startedAt, &r.completedAt,
	}
}

func (r *nullableAnalysisRow) toModel() *model.Analysis {
	if !r.id.Valid {
		return nil
	}
	a := &model.Analysis{
		ID:            r.id.String,
		ProjectID:     r.projectID.String,
		Status:        model.AnalysisStatus(r.status.String),
		FailureReason: r.failureReason.String,
		IssueCount:    int(r.issueCount.Int64),
		CreatedAt:     r.createdAt.Time,
	}
	if r.startedAt.Valid {
		t := r.startedAt.Time
		a.StartedAt = &t
	}
	if r.completedAt.Valid {
		t := r.completedAt.Time
		a.CompletedAt = &t
	}
	// Scores are only exposed for completed analyses.
	if a.Status == model.StatusCompleted && r.overall.Valid {
		a.Scores = &model.Scores{
			Structure:    r.structure.Float64,
			Quality:      r.quality.Float64,
			Security:     r.security.Float64,
			Dependencies: r.dependencies.Float64,
			Overall:      r.overall.Float64,
		}
	}
	return a
}
