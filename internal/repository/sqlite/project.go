package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

var _ repository.ProjectRepository = (*DB)(nil)

const projectColumns = `p.id, p.user_id, p.name, p.project_source, p.repo_owner, p.repo_name,
	p.repo_url, p.default_branch, p.upload_metadata, p.last_analysis_id, p.created_at`

// CreateProject inserts the project row and all file rows atomically.
func (db *DB) CreateProject(ctx context.Context, p *model.Project, files []model.ProjectFile) error {
	p.ID = xid.New().String()
	p.CreatedAt = time.Now().UTC()

	var uploadJSON sql.NullString
	if p.Upload != nil {
		b, err := json.Marshal(p.Upload)
		if err != nil {
			return fmt.Errorf("sqlite: encoding upload metadata: %w", err)
		}
		uploadJSON = sql.NullString{String: string(b), Valid: true}
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO projects
				(id, user_id, name, project_source, repo_owner, repo_name, repo_url, default_branch, upload_metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID,
			p.UserID,
			p.Name,
			string(p.Source),
			nullString(p.RepoOwner),
			nullString(p.RepoName),
			nullString(p.RepoURL),
			nullString(p.DefaultBranch),
			uploadJSON,
			p.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Duplicate("project", p.FullName())
			}
			return fmt.Errorf("inserting project: %w", err)
		}

		if len(files) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO project_files (id, project_id, path, size, blob_hash) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing file insert: %w", err)
		}
		defer stmt.Close()

		for i := range files {
			files[i].ID = xid.New().String()
			files[i].ProjectID = p.ID
			if _, err := stmt.ExecContext(ctx,
				files[i].ID, files[i].ProjectID, files[i].Path, files[i].Size, files[i].BlobHash,
			); err != nil {
				return fmt.Errorf("inserting file %s: %w", files[i].Path, err)
			}
		}
		return nil
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("sqlite: creating project: %w", err)
	}
	return nil
}

func (db *DB) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := scanProject(db.conn.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p WHERE p.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("project", id)
		}
		return nil, fmt.Errorf("sqlite: getting project %s: %w", id, err)
	}
	return p, nil
}

// FindRemoteProject looks a remote project up by its coordinates.
func (db *DB) FindRemoteProject(ctx context.Context, userID, owner, name string) (*model.Project, error) {
	p, err := scanProject(db.conn.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p
		 WHERE p.user_id = ? AND p.project_source = 'remote' AND p.repo_owner = ? AND p.repo_name = ?`,
		userID, owner, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("project", owner+"/"+name)
		}
		return nil, fmt.Errorf("sqlite: finding project %s/%s: %w", owner, name, err)
	}
	return p, nil
}

// ListProjects returns the user's projects, newest first, each joined with
// its latest analysis.
func (db *DB) ListProjects(ctx context.Context, userID string) ([]model.ProjectSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+projectColumns+`, `+analysisColumns+`
		 FROM projects p
		 LEFT JOIN analyses a ON a.id = p.last_analysis_id
		 WHERE p.user_id = ?
		 ORDER BY p.created_at DESC, p.rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing projects: %w", err)
	}
	defer rows.Close()

	var out []model.ProjectSummary
	for rows.Next() {
		var (
			pr projectRow
			ar nullableAnalysisRow
		)
		if err := rows.Scan(append(pr.dest(), ar.dest()...)...); err != nil {
			return nil, fmt.Errorf("sqlite: scanning project: %w", err)
		}
		p, err := pr.toModel()
		if err != nil {
			return nil, err
		}
		s := model.ProjectSummary{Project: *p}
		if a := ar.toModel(); a != nil {
			s.LatestAnalysis = a
			s.InFlight = a.Status.InFlight()
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating projects: %w", err)
	}
	return out, nil
}

// DeleteProject relies on ON DELETE CASCADE for analyses, issues and files.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting project %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("project", id)
	}
	return nil
}

func (db *DB) ListProjectFiles(ctx context.Context, projectID string) ([]model.ProjectFile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, project_id, path, size, blob_hash FROM project_files
		 WHERE project_id = ? ORDER BY path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing files of project %s: %w", projectID, err)
	}
	defer rows.Close()

	var files []model.ProjectFile
	for rows.Next() {
		var f model.ProjectFile
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &f.BlobHash); err != nil {
			return nil, fmt.Errorf("sqlite: scanning project file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (db *DB) GetProjectFile(ctx context.Context, projectID, path string) (*model.ProjectFile, error) {
	var f model.ProjectFile
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, project_id, path, size, blob_hash FROM project_files
		 WHERE project_id = ? AND path = ?`, projectID, path,
	).Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &f.BlobHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("file", path)
		}
		return nil, fmt.Errorf("sqlite: getting file %s: %w", path, err)
	}
	return &f, nil
}

// projectRow holds the nullable column values of one projects row.
type projectRow struct {
	id, userID, name, source             string
	owner, repoName, url, branch, upload sql.NullString
	lastAnalysisID                       sql.NullString
	createdAt                            time.Time
}

func (r *projectRow) dest() []any {
	return []any{
		&r.id, &r.userID, &r.name, &r.source, &r.owner, &r.repoName,
		&r.url, &r.branch, &r.upload, &r.lastAnalysisID, &r.createdAt,
	}
}

func (r *projectRow) toModel() (*model.Project, error) {
	p := &model.Project{
		ID:             r.id,
		UserID:         r.userID,
		Name:           r.name,
		Source:         model.ProjectSource(r.source),
		RepoOwner:      r.owner.String,
		RepoName:       r.repoName.String,
		RepoURL:        r.url.String,
		DefaultBranch:  r.branch.String,
		LastAnalysisID: r.lastAnalysisID.String,
		CreatedAt:      r.createdAt,
	}
	if r.upload.Valid && r.upload.String != "" {
		var meta model.UploadMetadata
		if err := json.Unmarshal([]byte(r.upload.String), &meta); err != nil {
			return nil, fmt.Errorf("sqlite: decoding upload metadata of project %s: %w", r.id, err)
		}
		p.Upload = &meta
	}
	return p, nil
}

func scanProject(row *sql.Row) (*model.Project, error) {
	var r projectRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.toModel()
}
