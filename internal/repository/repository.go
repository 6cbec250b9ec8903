// Package repository declares the storage contracts the service layer
// depends on. internal/repository/sqlite is the production implementation;
// service tests use in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/archon/internal/model"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// ConnectionRepository stores at most one IdentityConnection per user.
type ConnectionRepository interface {
	SaveConnection(ctx context.Context, conn *model.IdentityConnection) error
	GetConnection(ctx context.Context, userID string) (*model.IdentityConnection, error)
	// DeleteConnection is idempotent: deleting a missing connection is not an error.
	DeleteConnection(ctx context.Context, userID string) error
}

// OAuthStateRepository holds pending authorization requests.
type OAuthStateRepository interface {
	SaveState(ctx context.Context, state *model.OAuthState) error
	// ConsumeState atomically marks the state used and returns it. A state
	// that was already consumed yields an OAuthFailed(state_consumed) error;
	// an unknown one yields NotFound.
	ConsumeState(ctx context.Context, state string) (*model.OAuthState, error)
	PurgeExpiredStates(ctx context.Context, now time.Time) (int64, error)
}

type ProjectRepository interface {
	// CreateProject inserts the project and its file rows in one
	// transaction. A second remote project with the same (user, owner,
	// name) yields a Duplicate error.
	CreateProject(ctx context.Context, project *model.Project, files []model.ProjectFile) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	FindRemoteProject(ctx context.Context, userID, owner, name string) (*model.Project, error)
	ListProjects(ctx context.Context, userID string) ([]model.ProjectSummary, error)
	// DeleteProject removes the project; analyses, issues and file rows go
	// with it through ON DELETE CASCADE.
	DeleteProject(ctx context.Context, id string) error
	ListProjectFiles(ctx context.Context, projectID string) ([]model.ProjectFile, error)
	GetProjectFile(ctx context.Context, projectID, path string) (*model.ProjectFile, error)
}

// AnalysisRepository is written only by the orchestrator. Every status
// update is guarded by the expected current status.
type AnalysisRepository interface {
	// StartOrJoinAnalysis returns the project's in-flight analysis if there
	// is one (created=false), otherwise inserts a new pending analysis
	// (created=true). Both happen in one transaction.
	StartOrJoinAnalysis(ctx context.Context, projectID string) (analysis *model.Analysis, created bool, err error)
	MarkRunning(ctx context.Context, id string) error
	CompleteAnalysis(ctx context.Context, id string, scores model.Scores, issues []model.Issue) error
	FailAnalysis(ctx context.Context, id, reason string) error
	// FailInFlight fails every pending or running analysis. Used on startup.
	FailInFlight(ctx context.Context, reason string) (int64, error)
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	LatestAnalysis(ctx context.Context, projectID string) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, projectID string) ([]model.Analysis, error)
	ListIssues(ctx context.Context, analysisID string) ([]model.Issue, error)
}
