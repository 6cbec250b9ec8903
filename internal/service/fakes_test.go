package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/archon/internal/analyzer"
	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/auth"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/scm/github"
	"github.com/sakif/archon/internal/worker"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errDatabase = errors.New("database is on fire")

// =========================================================================
// STORES
// =========================================================================

type fakeUsers struct {
	mu        sync.Mutex
	byID      map[string]*model.User
	nextID    int
	createErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]*model.User)}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return apperror.Duplicate("account", u.Email)
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.byID[u.ID] = &stored
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

type fakeConns struct {
	mu      sync.Mutex
	conns   map[string]*model.IdentityConnection
	gets    int
	getErr  error
	saveErr error
}

func newFakeConns() *fakeConns {
	return &fakeConns{conns: make(map[string]*model.IdentityConnection)}
}

func (f *fakeConns) SaveConnection(_ context.Context, c *model.IdentityConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	now := time.Now()
	c.ConnectedAt, c.UpdatedAt = now, now
	stored := *c
	f.conns[c.UserID] = &stored
	return nil
}

func (f *fakeConns) GetConnection(_ context.Context, userID string) (*model.IdentityConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.conns[userID]
	if !ok {
		return nil, apperror.NotFound("connection", userID)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConns) DeleteConnection(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, userID)
	return nil
}

func (f *fakeConns) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type storedState struct {
	state    model.OAuthState
	consumed bool
}

type fakeStates struct {
	mu     sync.Mutex
	states map[string]*storedState
	purged int
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]*storedState)}
}

func (f *fakeStates) SaveState(_ context.Context, st *model.OAuthState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.State] = &storedState{state: *st}
	return nil
}

func (f *fakeStates) ConsumeState(_ context.Context, state string) (*model.OAuthState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[state]
	if !ok {
		return nil, apperror.NotFound("oauth state", "(redacted)")
	}
	if s.consumed {
		return nil, apperror.OAuthFailed(apperror.ReasonStateConsumed, "authorization callback was already processed")
	}
	s.consumed = true
	cp := s.state
	return &cp, nil
}

func (f *fakeStates) PurgeExpiredStates(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, s := range f.states {
		if s.state.Expired(now) {
			delete(f.states, k)
			n++
		}
	}
	f.purged += int(n)
	return n, nil
}

type fakeProjects struct {
	mu        sync.Mutex
	projects  map[string]*model.Project
	files     map[string][]model.ProjectFile
	nextID    int
	createErr error
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{
		projects: make(map[string]*model.Project),
		files:    make(map[string][]model.ProjectFile),
	}
}

func (f *fakeProjects) CreateProject(_ context.Context, p *model.Project, files []model.ProjectFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if p.IsRemote() {
		for _, existing := range f.projects {
			if existing.UserID == p.UserID && existing.IsRemote() &&
				existing.RepoOwner == p.RepoOwner && existing.RepoName == p.RepoName {
				return apperror.Duplicate("project", p.FullName())
			}
		}
	}
	f.nextID++
	p.ID = fmt.Sprintf("proj-%d", f.nextID)
	p.CreatedAt = time.Now()
	stored := *p
	f.projects[p.ID] = &stored
	for i := range files {
		files[i].ID = fmt.Sprintf("%s-file-%d", p.ID, i)
		files[i].ProjectID = p.ID
	}
	f.files[p.ID] = append([]model.ProjectFile(nil), files...)
	return nil
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, apperror.NotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjects) FindRemoteProject(_ context.Context, userID, owner, name string) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.projects {
		if p.UserID == userID && p.IsRemote() &&
			strings.EqualFold(p.RepoOwner, owner) && strings.EqualFold(p.RepoName, name) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("project", owner+"/"+name)
}

func (f *fakeProjects) ListProjects(_ context.Context, userID string) ([]model.ProjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ProjectSummary
	for _, p := range f.projects {
		if p.UserID == userID {
			out = append(out, model.ProjectSummary{Project: *p})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (f *fakeProjects) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return apperror.NotFound("project", id)
	}
	delete(f.projects, id)
	delete(f.files, id)
	return nil
}

func (f *fakeProjects) ListProjectFiles(_ context.Context, projectID string) ([]model.ProjectFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ProjectFile(nil), f.files[projectID]...), nil
}

func (f *fakeProjects) GetProjectFile(_ context.Context, projectID, path string) (*model.ProjectFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files[projectID] {
		if file.Path == path {
			cp := file
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("file", path)
}

func (f *fakeProjects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.projects)
}

// fakeAnalyses keeps the same guarded transitions as the SQLite store.
type fakeAnalyses struct {
	mu       sync.Mutex
	byID     map[string]*model.Analysis
	order    []string
	issues   map[string][]model.Issue
	startErr error
	// runningErr fails the next MarkRunning once.
	runningErr error
}

func newFakeAnalyses() *fakeAnalyses {
	return &fakeAnalyses{
		byID:   make(map[string]*model.Analysis),
		issues: make(map[string][]model.Issue),
	}
}

func (f *fakeAnalyses) StartOrJoinAnalysis(_ context.Context, projectID string) (*model.Analysis, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, false, f.startErr
	}
	for i := len(f.order) - 1; i >= 0; i-- {
		a := f.byID[f.order[i]]
		if a.ProjectID == projectID && a.Status.InFlight() {
			cp := *a
			return &cp, false, nil
		}
	}
	a := &model.Analysis{
		ID:        fmt.Sprintf("an-%d", len(f.order)+1),
		ProjectID: projectID,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
	}
	f.byID[a.ID] = a
	f.order = append(f.order, a.ID)
	cp := *a
	return &cp, true, nil
}

func (f *fakeAnalyses) transition(id string, to model.AnalysisStatus) (*model.Analysis, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("analysis", id)
	}
	if !model.CanTransition(a.Status, to) {
		return nil, apperror.Conflict("analysis", id)
	}
	a.Status = to
	return a, nil
}

func (f *fakeAnalyses) MarkRunning(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.runningErr; err != nil {
		f.runningErr = nil
		return err
	}
	a, err := f.transition(id, model.StatusRunning)
	if err != nil {
		return err
	}
	now := time.Now()
	a.StartedAt = &now
	return nil
}

func (f *fakeAnalyses) CompleteAnalysis(_ context.Context, id string, scores model.Scores, issues []model.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.transition(id, model.StatusCompleted)
	if err != nil {
		return err
	}
	now := time.Now()
	a.Scores = &scores
	a.CompletedAt = &now
	a.IssueCount = len(issues)
	for i := range issues {
		issues[i].ID = fmt.Sprintf("%s-issue-%d", id, i)
		issues[i].AnalysisID = id
	}
	f.issues[id] = append([]model.Issue(nil), issues...)
	return nil
}

func (f *fakeAnalyses) FailAnalysis(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.transition(id, model.StatusFailed)
	if err != nil {
		return err
	}
	now := time.Now()
	a.FailureReason = reason
	a.CompletedAt = &now
	return nil
}

func (f *fakeAnalyses) FailInFlight(_ context.Context, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.byID {
		if a.Status.InFlight() {
			a.Status = model.StatusFailed
			a.FailureReason = reason
			n++
		}
	}
	return n, nil
}

func (f *fakeAnalyses) GetAnalysis(_ context.Context, id string) (*model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("analysis", id)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAnalyses) LatestAnalysis(_ context.Context, projectID string) (*model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		if a := f.byID[f.order[i]]; a.ProjectID == projectID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("analysis for project", projectID)
}

func (f *fakeAnalyses) ListAnalyses(_ context.Context, projectID string) ([]model.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Analysis
	for i := len(f.order) - 1; i >= 0; i-- {
		if a := f.byID[f.order[i]]; a.ProjectID == projectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAnalyses) ListIssues(_ context.Context, analysisID string) ([]model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Issue{}, f.issues[analysisID]...), nil
}

// =========================================================================
// COLLABORATORS
// =========================================================================

// fakeSealer is reversible without a key; Open fails on anything it did not
// seal.
type fakeSealer struct {
	openErr error
}

func (s *fakeSealer) Seal(p []byte) ([]byte, error) {
	return append([]byte("sealed:"), p...), nil
}

func (s *fakeSealer) Open(b []byte) ([]byte, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	rest, ok := strings.CutPrefix(string(b), "sealed:")
	if !ok {
		return nil, errors.New("not sealed")
	}
	return []byte(rest), nil
}

type fakeProvider struct {
	mu          sync.Mutex
	grant       *auth.Grant
	exchangeErr error
	block       bool
	codes       []string
}

func (p *fakeProvider) AuthURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*auth.Grant, error) {
	p.mu.Lock()
	p.codes = append(p.codes, code)
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return nil, apperror.UpstreamTimeout("GitHub token exchange")
	}
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	g := *p.grant
	return &g, nil
}

// fakeHost serves one repository. Every method records the token it saw
// and fails with err when set.
type fakeHost struct {
	mu        sync.Mutex
	repos     []model.RepoSummary
	branches  []string
	entries   map[string][]model.TreeEntry // by branch
	contents  map[string]string            // by branch + ":" + path
	snapshot  []github.SnapshotFile
	err       error
	tokens    []string
	snapshots int
}

func (h *fakeHost) seen(token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens = append(h.tokens, token)
	return h.err
}

func (h *fakeHost) ListRepositories(_ context.Context, token string) ([]model.RepoSummary, error) {
	if err := h.seen(token); err != nil {
		return nil, err
	}
	return append([]model.RepoSummary(nil), h.repos...), nil
}

func (h *fakeHost) GetRepository(_ context.Context, token, owner, name string) (*model.RepoSummary, error) {
	if err := h.seen(token); err != nil {
		return nil, err
	}
	for _, r := range h.repos {
		if strings.EqualFold(r.Owner, owner) && strings.EqualFold(r.Name, name) {
			cp := r
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("repository", owner+"/"+name)
}

func (h *fakeHost) ListBranches(_ context.Context, token, _, _ string) ([]string, error) {
	if err := h.seen(token); err != nil {
		return nil, err
	}
	return append([]string(nil), h.branches...), nil
}

func (h *fakeHost) GetTree(_ context.Context, token, _, _, branch string) (*github.Tree, error) {
	if err := h.seen(token); err != nil {
		return nil, err
	}
	entries, ok := h.entries[branch]
	if !ok {
		return nil, apperror.NotFound("branch", branch)
	}
	return &github.Tree{Branch: branch, CommitSHA: "sha-" + branch, Entries: entries}, nil
}

func (h *fakeHost) GetFileContent(_ context.Context, token, _, _, path, branch string) (string, error) {
	if err := h.seen(token); err != nil {
		return "", err
	}
	c, ok := h.contents[branch+":"+path]
	if !ok {
		return "", apperror.NotFound("file", path)
	}
	return c, nil
}

func (h *fakeHost) Snapshot(_ context.Context, token, _, _, _ string, keep github.FileFilter) ([]github.SnapshotFile, error) {
	if err := h.seen(token); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.snapshots++
	h.mu.Unlock()
	var out []github.SnapshotFile
	for _, f := range h.snapshot {
		if keep == nil || keep(f.Path, int64(len(f.Content))) {
			out = append(out, f)
		}
	}
	return out, nil
}

type fakeBlobs struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	putErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: make(map[string][]byte)}
}

func (b *fakeBlobs) Put(data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return "", b.putErr
	}
	h := fmt.Sprintf("h%x", len(b.blobs)+1)
	for k, v := range b.blobs {
		if string(v) == string(data) {
			return k, nil
		}
	}
	b.blobs[h] = append([]byte(nil), data...)
	return h, nil
}

func (b *fakeBlobs) Get(hash string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[hash]
	if !ok {
		return nil, apperror.NotFound("blob", hash)
	}
	return data, nil
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// fakeQueue holds submitted jobs until the test runs them.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []worker.Job
	err  error
}

func (q *fakeQueue) Submit(job worker.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) drain(ctx context.Context) int {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, j := range jobs {
		j.Run(ctx)
	}
	return len(jobs)
}

type fakeSource struct {
	snap  *analyzer.Snapshot
	err   error
	block bool
}

func (s *fakeSource) Load(ctx context.Context, _ *model.Project) (*analyzer.Snapshot, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

type fakeAnalyzer struct {
	result *analyzer.Result
	err    error
	calls  int
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ *analyzer.Snapshot) (*analyzer.Result, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}
