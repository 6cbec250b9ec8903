package service

import (
	"context"
	"fmt"

	"github.com/sakif/archon/internal/analyzer"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

// maxSnapshotFileBytes skips vendored blobs and data files in a clone.
const maxSnapshotFileBytes = 2 << 20

// SourceLoader materialises a project's files for the analyzer.
type SourceLoader struct {
	projects repository.ProjectRepository
	host     RepositoryHost
	conns    *IdentityConnectionStore
	blobs    BlobStore
}

func NewSourceLoader(projects repository.ProjectRepository, host RepositoryHost, conns *IdentityConnectionStore, blobs BlobStore) *SourceLoader {
	return &SourceLoader{projects: projects, host: host, conns: conns, blobs: blobs}
}

// Load returns the snapshot of p: a shallow clone of the default branch for
// remote projects, the stored blobs for uploads.
func (l *SourceLoader) Load(ctx context.Context, p *model.Project) (*analyzer.Snapshot, error) {
	if p.IsRemote() {
		return l.loadRemote(ctx, p)
	}
	return l.loadUpload(ctx, p)
}

func (l *SourceLoader) loadRemote(ctx context.Context, p *model.Project) (*analyzer.Snapshot, error) {
	snap := &analyzer.Snapshot{}
	err := l.conns.WithCredential(ctx, p.UserID, func(token string) error {
		files, err := l.host.Snapshot(ctx, token, p.RepoOwner, p.RepoName, p.DefaultBranch,
			func(_ string, size int64) bool { return size <= maxSnapshotFileBytes })
		if err != nil {
			return err
		}
		for _, f := range files {
			snap.Files = append(snap.Files, analyzer.SourceFile{Path: f.Path, Content: f.Content})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (l *SourceLoader) loadUpload(ctx context.Context, p *model.Project) (*analyzer.Snapshot, error) {
	rows, err := l.projects.ListProjectFiles(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("service/source: listing files: %w", err)
	}
	snap := &analyzer.Snapshot{Files: make([]analyzer.SourceFile, 0, len(rows))}
	for _, f := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := l.blobs.Get(f.BlobHash)
		if err != nil {
			return nil, fmt.Errorf("service/source: reading %s: %w", f.Path, err)
		}
		snap.Files = append(snap.Files, analyzer.SourceFile{Path: f.Path, Content: data})
	}
	return snap, nil
}
