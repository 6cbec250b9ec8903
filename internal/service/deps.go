// Package service holds the business logic between the HTTP handlers and the
// stores.
//
//	handler → service → repository (SQLite)
//	                  ↘ GitHub, blob store, analyzer, worker pool
//
// Services accept primitives and domain types, never *http.Request, and
// return *apperror.AppError values the handlers translate to status codes.
// Every collaborator is an interface declared here so tests can swap in
// in-memory fakes.
package service

import (
	"context"

	"github.com/sakif/archon/internal/analyzer"
	"github.com/sakif/archon/internal/auth"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/scm/github"
	"github.com/sakif/archon/internal/worker"
)

// OAuthProvider performs the provider half of the authorization-code flow.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Grant, error)
}

// CredentialSealer encrypts credentials before they reach storage.
type CredentialSealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// RepositoryHost is the part of the GitHub API the services use. Every call
// takes the caller's access token.
type RepositoryHost interface {
	ListRepositories(ctx context.Context, token string) ([]model.RepoSummary, error)
	GetRepository(ctx context.Context, token, owner, name string) (*model.RepoSummary, error)
	ListBranches(ctx context.Context, token, owner, name string) ([]string, error)
	GetTree(ctx context.Context, token, owner, name, branch string) (*github.Tree, error)
	GetFileContent(ctx context.Context, token, owner, name, path, branch string) (string, error)
	Snapshot(ctx context.Context, token, owner, name, branch string, keep github.FileFilter) ([]github.SnapshotFile, error)
}

// BlobStore keeps uploaded file content by hash.
type BlobStore interface {
	Put(data []byte) (string, error)
	Get(hash string) ([]byte, error)
}

// Analyzer scores a snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, snap *analyzer.Snapshot) (*analyzer.Result, error)
}

// SourceProvider produces the files an analysis runs over.
type SourceProvider interface {
	Load(ctx context.Context, p *model.Project) (*analyzer.Snapshot, error)
}

// JobQueue runs work off the request path.
type JobQueue interface {
	Submit(job worker.Job) error
}

var (
	_ OAuthProvider    = (*auth.GitHubProvider)(nil)
	_ CredentialSealer = (*auth.Sealer)(nil)
	_ RepositoryHost   = (*github.Client)(nil)
	_ Analyzer         = (*analyzer.Engine)(nil)
	_ SourceProvider   = (*SourceLoader)(nil)
	_ JobQueue         = (*worker.Pool)(nil)
)
