package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

// RepositoryMeta identifies the remote repository behind a tree.
type RepositoryMeta struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
	URL           string `json:"url"`
}

// FileTree is one branch's file listing. It is built per request and never
// cached.
type FileTree struct {
	Repository RepositoryMeta          `json:"repository"`
	Branch     string                  `json:"branch"`
	Branches   []string                `json:"branches"`
	CommitSHA  string                  `json:"commitSha,omitempty"`
	Truncated  bool                    `json:"truncated"`
	Tree       []*model.RepositoryNode `json:"tree"`
}

// FileContent is the text of one file.
type FileContent struct {
	Path    string `json:"path"`
	Branch  string `json:"branch,omitempty"`
	Size    int    `json:"size"`
	Content string `json:"content"`
}

// FileTreeService browses a project's files one branch at a time. Remote
// trees come from GitHub; uploaded projects carry their tree in the project
// itself, so only content reads are served here for them.
type FileTreeService struct {
	projects   repository.ProjectRepository
	host       RepositoryHost
	conns      *IdentityConnectionStore
	blobs      BlobStore
	maxContent int64
	logger     *slog.Logger
}

func NewFileTreeService(
	projects repository.ProjectRepository,
	host RepositoryHost,
	conns *IdentityConnectionStore,
	blobs BlobStore,
	maxContent int64,
	logger *slog.Logger,
) *FileTreeService {
	return &FileTreeService{
		projects:   projects,
		host:       host,
		conns:      conns,
		blobs:      blobs,
		maxContent: maxContent,
		logger:     logger,
	}
}

// ListFiles returns the tree of branch, or of the default branch when
// branch is empty. An unknown branch is NotFound.
func (s *FileTreeService) ListFiles(ctx context.Context, userID, projectID, branch string) (*FileTree, error) {
	p, err := ownedProject(ctx, s.projects, userID, projectID)
	if err != nil {
		return nil, err
	}
	if !p.IsRemote() {
		return nil, apperror.ValidationFailed("project", "uploaded projects have no branches; the tree is part of the project")
	}
	if branch == "" {
		branch = p.DefaultBranch
	}

	out := &FileTree{
		Repository: RepositoryMeta{
			Owner:         p.RepoOwner,
			Name:          p.RepoName,
			DefaultBranch: p.DefaultBranch,
			URL:           p.RepoURL,
		},
		Branch: branch,
	}
	err = s.conns.WithCredential(ctx, userID, func(token string) error {
		branches, err := s.host.ListBranches(ctx, token, p.RepoOwner, p.RepoName)
		if err != nil {
			return err
		}
		if branch == "" && len(branches) > 0 {
			branch = branches[0]
			out.Branch = branch
		}
		if !slices.Contains(branches, branch) {
			return apperror.NotFound("branch", branch)
		}
		out.Branches = branches

		tree, err := s.host.GetTree(ctx, token, p.RepoOwner, p.RepoName, branch)
		if err != nil {
			return err
		}
		out.CommitSHA = tree.CommitSHA
		out.Truncated = tree.Truncated
		out.Tree = model.BuildTree(tree.Entries)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Tree == nil {
		out.Tree = []*model.RepositoryNode{}
	}
	return out, nil
}

// GetFileContent returns the full text of filePath. A missing path is
// NotFound; binary or oversized files are refused rather than truncated.
func (s *FileTreeService) GetFileContent(ctx context.Context, userID, projectID, filePath, branch string) (*FileContent, error) {
	filePath = strings.Trim(strings.TrimSpace(filePath), "/")
	if filePath == "" {
		return nil, apperror.ValidationFailed("path", "path is required")
	}
	if clean := path.Clean(filePath); clean != filePath || clean == ".." || strings.HasPrefix(clean, "../") {
		return nil, apperror.ValidationFailed("path", "path must be a clean relative path")
	}

	p, err := ownedProject(ctx, s.projects, userID, projectID)
	if err != nil {
		return nil, err
	}
	if p.IsRemote() {
		return s.remoteContent(ctx, userID, p, filePath, branch)
	}
	return s.uploadedContent(ctx, p, filePath)
}

func (s *FileTreeService) remoteContent(ctx context.Context, userID string, p *model.Project, filePath, branch string) (*FileContent, error) {
	if branch == "" {
		branch = p.DefaultBranch
	}
	var content string
	err := s.conns.WithCredential(ctx, userID, func(token string) error {
		var err error
		content, err = s.host.GetFileContent(ctx, token, p.RepoOwner, p.RepoName, filePath, branch)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.maxContent > 0 && int64(len(content)) > s.maxContent {
		return nil, apperror.TooLarge(filePath, s.maxContent)
	}
	return &FileContent{Path: filePath, Branch: branch, Size: len(content), Content: content}, nil
}

func (s *FileTreeService) uploadedContent(ctx context.Context, p *model.Project, filePath string) (*FileContent, error) {
	f, err := s.projects.GetProjectFile(ctx, p.ID, filePath)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("file", filePath)
		}
		return nil, fmt.Errorf("service/filetree: loading file row: %w", err)
	}
	if s.maxContent > 0 && f.Size > s.maxContent {
		return nil, apperror.TooLarge(filePath, s.maxContent)
	}
	data, err := s.blobs.Get(f.BlobHash)
	if err != nil {
		s.logger.Error("upload blob missing",
			slog.String("projectID", p.ID),
			slog.String("path", filePath),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/filetree: reading blob: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, apperror.ValidationFailed("path", "binary file")
	}
	return &FileContent{Path: filePath, Size: len(data), Content: string(data)}, nil
}
