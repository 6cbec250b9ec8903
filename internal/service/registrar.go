package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

// UploadLimits bounds an upload batch.
type UploadLimits struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
	MaxFiles      int
}

// DefaultUploadLimits mirrors the config defaults.
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{
		MaxFileBytes:  50 << 20,
		MaxTotalBytes: 200 << 20,
		MaxFiles:      5000,
	}
}

// UploadFile is one file of an upload batch. Path is relative to the
// project root.
type UploadFile struct {
	Path    string
	Content []byte
}

// RepositoryRef names a remote repository to import.
type RepositoryRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// dependencyManifests are the manifests that declare dependencies.
var dependencyManifests = map[string]bool{
	"setup.py": true, "pyproject.toml": true, "requirements.txt": true,
	"Pipfile": true, "setup.cfg": true, "conda.yml": true, "environment.yml": true,
}

// ProjectRegistrar creates, lists and deletes projects. Every read and
// delete is scoped to the owner: another user's project is NotFound.
type ProjectRegistrar struct {
	projects repository.ProjectRepository
	catalog  *RepositoryCatalog
	blobs    BlobStore
	limits   UploadLimits
	logger   *slog.Logger
}

func NewProjectRegistrar(
	projects repository.ProjectRepository,
	catalog *RepositoryCatalog,
	blobs BlobStore,
	limits UploadLimits,
	logger *slog.Logger,
) *ProjectRegistrar {
	return &ProjectRegistrar{
		projects: projects,
		catalog:  catalog,
		blobs:    blobs,
		limits:   limits,
		logger:   logger,
	}
}

// RegisterFromRepository imports a GitHub repository the user can see. A
// second import of the same owner/name fails with Duplicate.
func (r *ProjectRegistrar) RegisterFromRepository(ctx context.Context, userID string, ref RepositoryRef) (*model.Project, error) {
	ref.Owner = strings.TrimSpace(ref.Owner)
	ref.Name = strings.TrimSpace(ref.Name)
	if ref.Owner == "" || ref.Name == "" {
		return nil, apperror.ValidationFailed("repository", "owner and name are required")
	}

	existing, err := r.projects.FindRemoteProject(ctx, userID, ref.Owner, ref.Name)
	if err == nil {
		return nil, apperror.Duplicate("project", existing.FullName())
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/registrar: checking duplicate: %w", err)
	}

	repo, err := r.catalog.GetRepository(ctx, userID, ref.Owner, ref.Name)
	if err != nil {
		return nil, err
	}

	p := &model.Project{
		UserID:        userID,
		Name:          repo.Name,
		Source:        model.SourceRemote,
		RepoOwner:     repo.Owner,
		RepoName:      repo.Name,
		RepoURL:       repo.URL,
		DefaultBranch: repo.DefaultBranch,
	}
	// GitHub may canonicalise the case of owner/name.
	if p.RepoOwner == "" {
		p.RepoOwner = ref.Owner
	}
	if p.RepoName == "" {
		p.RepoName, p.Name = ref.Name, ref.Name
	}

	if err := r.projects.CreateProject(ctx, p, nil); err != nil {
		if errors.Is(err, apperror.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("service/registrar: creating project: %w", err)
	}
	r.logger.Info("project imported",
		slog.String("projectID", p.ID),
		slog.String("userID", userID),
		slog.String("repository", p.FullName()),
	)
	return p, nil
}

// RegisterFromUpload validates the whole batch before writing anything.
// Every refused file is reported together in one UploadRejected error;
// on success the project and all its file rows are created in one
// transaction.
func (r *ProjectRegistrar) RegisterFromUpload(ctx context.Context, userID, name string, files []UploadFile) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "project name is required")
	}
	if len(files) == 0 {
		return nil, apperror.ValidationFailed("files", "no files uploaded")
	}
	if r.limits.MaxFiles > 0 && len(files) > r.limits.MaxFiles {
		return nil, apperror.TooLarge(fmt.Sprintf("upload of %d files", len(files)), int64(r.limits.MaxFiles))
	}

	var (
		rejections []apperror.Rejection
		seen       = make(map[string]bool, len(files))
		cleaned    = make([]string, len(files))
		total      int64
	)
	for i, f := range files {
		p, reason := validateUploadPath(f.Path)
		if reason == "" && seen[p] {
			reason = "duplicate path in upload"
		}
		if reason == "" && !model.UploadAllowed(p) {
			reason = fmt.Sprintf("file type %q is not allowed", path.Ext(p))
		}
		size := int64(len(f.Content))
		if reason == "" && r.limits.MaxFileBytes > 0 && size > r.limits.MaxFileBytes {
			reason = fmt.Sprintf("file is %d bytes, limit is %d", size, r.limits.MaxFileBytes)
		}
		if reason != "" {
			display := p
			if display == "" {
				display = f.Path
			}
			rejections = append(rejections, apperror.Rejection{Path: display, Reason: reason})
			continue
		}
		seen[p] = true
		cleaned[i] = p
		total += size
	}
	if len(rejections) > 0 {
		return nil, apperror.UploadRejected(rejections)
	}
	if r.limits.MaxTotalBytes > 0 && total > r.limits.MaxTotalBytes {
		return nil, apperror.UploadRejected([]apperror.Rejection{{
			Path:   "*",
			Reason: fmt.Sprintf("upload is %d bytes in total, limit is %d", total, r.limits.MaxTotalBytes),
		}})
	}

	meta := &model.UploadMetadata{FileCount: len(files), TotalBytes: total}
	rows := make([]model.ProjectFile, 0, len(files))
	entries := make([]model.TreeEntry, 0, len(files))
	for i, f := range files {
		p := cleaned[i]
		hash, err := r.blobs.Put(f.Content)
		if err != nil {
			return nil, fmt.Errorf("service/registrar: storing %s: %w", p, err)
		}
		size := int64(len(f.Content))
		rows = append(rows, model.ProjectFile{Path: p, Size: size, BlobHash: hash})
		entries = append(entries, model.TreeEntry{Path: p, Size: size})

		if strings.HasSuffix(p, ".py") {
			meta.PythonFiles++
		}
		if dependencyManifests[path.Base(p)] {
			meta.HasManifest = true
		}
	}
	meta.Tree = model.BuildTree(entries)

	project := &model.Project{
		UserID: userID,
		Name:   name,
		Source: model.SourceUploaded,
		Upload: meta,
	}
	if err := r.projects.CreateProject(ctx, project, rows); err != nil {
		return nil, fmt.Errorf("service/registrar: creating project: %w", err)
	}
	r.logger.Info("project uploaded",
		slog.String("projectID", project.ID),
		slog.String("userID", userID),
		slog.Int("files", meta.FileCount),
		slog.Int64("bytes", meta.TotalBytes),
	)
	return project, nil
}

// validateUploadPath normalises p and returns a rejection reason when it
// is unusable.
func validateUploadPath(p string) (string, string) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", "empty path"
	}
	if strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':') {
		return p, "absolute paths are not allowed"
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return p, "path traversal is not allowed"
		}
	}
	if strings.HasSuffix(p, "/") {
		return p, "not a file path"
	}
	p = path.Clean(p)
	if p == "." {
		return p, "not a file path"
	}
	return p, ""
}

// GetProject returns a project owned by userID.
func (r *ProjectRegistrar) GetProject(ctx context.Context, userID, projectID string) (*model.Project, error) {
	return ownedProject(ctx, r.projects, userID, projectID)
}

// ListProjects returns the user's projects, each with its latest analysis.
// Upload trees are left out; ListFiles serves them.
func (r *ProjectRegistrar) ListProjects(ctx context.Context, userID string) ([]model.ProjectSummary, error) {
	projects, err := r.projects.ListProjects(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/registrar: listing projects: %w", err)
	}
	if projects == nil {
		projects = []model.ProjectSummary{}
	}
	for i := range projects {
		projects[i].Upload = projects[i].Upload.WithoutTree()
	}
	return projects, nil
}

// DeleteProject removes the project with its files, analyses and issues.
// Upload blobs are content-addressed and may be shared, so they stay.
func (r *ProjectRegistrar) DeleteProject(ctx context.Context, userID, projectID string) error {
	if _, err := ownedProject(ctx, r.projects, userID, projectID); err != nil {
		return err
	}
	if err := r.projects.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("service/registrar: deleting project: %w", err)
	}
	r.logger.Info("project deleted", slog.String("projectID", projectID), slog.String("userID", userID))
	return nil
}

// ownedProject loads a project and hides it from anyone but its owner.
func ownedProject(ctx context.Context, projects repository.ProjectRepository, userID, projectID string) (*model.Project, error) {
	p, err := projects.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service: loading project: %w", err)
	}
	if p.UserID != userID {
		return nil, apperror.NotFound("project", projectID)
	}
	return p, nil
}
