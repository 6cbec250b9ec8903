package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/sakif/archon/internal/apperror"
)

// SnapshotFile is one blob from a cloned branch.
type SnapshotFile struct {
	Path    string
	Content []byte
}

// FileFilter decides which blobs a snapshot keeps. size is the blob size.
type FileFilter func(path string, size int64) bool

// Snapshot shallow-clones one branch into memory and returns the files that
// pass keep. Nothing touches the local disk.
func (c *Client) Snapshot(ctx context.Context, token, owner, name, branch string, keep FileFilter) ([]SnapshotFile, error) {
	opts := &git.CloneOptions{
		URL:          fmt.Sprintf("%s/%s/%s.git", c.cloneBase, owner, name),
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	if token != "" {
		// GitHub accepts any non-empty username with a token as password.
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil, nil
	}
	if err != nil {
		return nil, mapCloneError(ctx, err)
	}
	return FilesAtHead(repo, keep)
}

// FilesAtHead walks the tree of HEAD's commit.
func FilesAtHead(repo *git.Repository, keep FileFilter) ([]SnapshotFile, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("github: resolving HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("github: reading head commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("github: reading tree: %w", err)
	}

	var files []SnapshotFile
	err = tree.Files().ForEach(func(f *object.File) error {
		if !f.Mode.IsFile() {
			return nil
		}
		if keep != nil && !keep(f.Name, f.Size) {
			return nil
		}
		r, err := f.Reader()
		if err != nil {
			return fmt.Errorf("opening %s: %w", f.Name, err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("reading %s: %w", f.Name, err)
		}
		files = append(files, SnapshotFile{Path: f.Name, Content: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("github: walking tree: %w", err)
	}
	return files, nil
}

func mapCloneError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperror.UpstreamTimeout("repository clone")
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return apperror.NotFound("repository", "(clone)")
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return apperror.NotConnected()
	case errors.Is(err, git.NoMatchingRefSpecError{}), errors.Is(err, plumbing.ErrReferenceNotFound),
		strings.Contains(err.Error(), "couldn't find remote ref"):
		return apperror.NotFound("branch", "(clone)")
	}
	return apperror.Upstream("repository clone")
}
