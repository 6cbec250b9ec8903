package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/archon/internal/auth"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/service"
)

// Mocks record what the handler passed in and return canned results, so the
// handler tests never touch SQLite or GitHub.

type MockAccounts struct {
	CapturedReg   service.Registration
	CapturedEmail string
	Session       *service.Session
	User          *model.User
	Err           error
}

func (m *MockAccounts) Register(_ context.Context, in service.Registration) (*service.Session, error) {
	m.CapturedReg = in
	return m.Session, m.Err
}

func (m *MockAccounts) Login(_ context.Context, email, _ string) (*service.Session, error) {
	m.CapturedEmail = email
	return m.Session, m.Err
}

func (m *MockAccounts) Me(_ context.Context, _ string) (*model.User, error) {
	return m.User, m.Err
}

type MockConnections struct {
	Status        *model.ConnectionStatus
	Authz         *service.Authorization
	CapturedCB    service.Callback
	Err           error
	Disconnected  string
	DisconnectErr error
}

func (m *MockConnections) GetConnectionStatus(_ context.Context, _ string) (*model.ConnectionStatus, error) {
	return m.Status, m.Err
}

func (m *MockConnections) BeginConnect(_ context.Context, _ string) (*service.Authorization, error) {
	return m.Authz, m.Err
}

func (m *MockConnections) HandleCallback(_ context.Context, cb service.Callback) (*model.ConnectionStatus, error) {
	m.CapturedCB = cb
	return m.Status, m.Err
}

func (m *MockConnections) Disconnect(_ context.Context, userID string) error {
	m.Disconnected = userID
	return m.DisconnectErr
}

type MockCatalog struct {
	Repos         []model.RepoSummary
	Repo          *model.RepoSummary
	CapturedQuery string
	CapturedRepo  model.RepoSummary
	Fetched       bool
	Err           error
}

func (m *MockCatalog) ListRepositories(_ context.Context, _, query string) ([]model.RepoSummary, error) {
	m.CapturedQuery = query
	return m.Repos, m.Err
}

func (m *MockCatalog) GetRepository(_ context.Context, _, _, _ string) (*model.RepoSummary, error) {
	m.Fetched = true
	return m.Repo, m.Err
}

func (m *MockCatalog) ValidateSuitability(repo model.RepoSummary) *model.Suitability {
	m.CapturedRepo = repo
	return &model.Suitability{IsSuitable: repo.Language == "Python", ConfidenceScore: 0.5, Warnings: []string{}}
}

type MockProjects struct {
	Project       *model.Project
	Summaries     []model.ProjectSummary
	CapturedRef   service.RepositoryRef
	CapturedName  string
	CapturedFiles []service.UploadFile
	Deleted       string
	Err           error
}

func (m *MockProjects) RegisterFromRepository(_ context.Context, _ string, ref service.RepositoryRef) (*model.Project, error) {
	m.CapturedRef = ref
	return m.Project, m.Err
}

func (m *MockProjects) RegisterFromUpload(_ context.Context, _, name string, files []service.UploadFile) (*model.Project, error) {
	m.CapturedName = name
	m.CapturedFiles = files
	return m.Project, m.Err
}

func (m *MockProjects) GetProject(_ context.Context, _, _ string) (*model.Project, error) {
	return m.Project, m.Err
}

func (m *MockProjects) ListProjects(_ context.Context, _ string) ([]model.ProjectSummary, error) {
	return m.Summaries, m.Err
}

func (m *MockProjects) DeleteProject(_ context.Context, _, projectID string) error {
	m.Deleted = projectID
	return m.Err
}

type MockFiles struct {
	Tree           *service.FileTree
	Content        *service.FileContent
	CapturedBranch string
	CapturedPath   string
	Listed         bool
	Err            error
}

func (m *MockFiles) ListFiles(_ context.Context, _, _, branch string) (*service.FileTree, error) {
	m.Listed = true
	m.CapturedBranch = branch
	return m.Tree, m.Err
}

func (m *MockFiles) GetFileContent(_ context.Context, _, _, path, branch string) (*service.FileContent, error) {
	m.CapturedPath = path
	m.CapturedBranch = branch
	return m.Content, m.Err
}

type MockAnalyses struct {
	Analysis *model.Analysis
	Created  bool
	History  []model.Analysis
	Report   *model.Report
	Err      error
}

func (m *MockAnalyses) StartAnalysis(_ context.Context, _, _ string) (*model.Analysis, bool, error) {
	return m.Analysis, m.Created, m.Err
}

func (m *MockAnalyses) ListAnalyses(_ context.Context, _, _ string) ([]model.Analysis, error) {
	return m.History, m.Err
}

func (m *MockAnalyses) GetReport(_ context.Context, _, _ string) (*model.Report, error) {
	return m.Report, m.Err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve routes req through a chi router so URL params resolve, as user-1.
func serve(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req.WithContext(auth.WithUserID(req.Context(), "user-1")))
	return rr
}
