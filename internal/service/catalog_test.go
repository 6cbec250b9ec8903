package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleRepos() []model.RepoSummary {
	return []model.RepoSummary{
		{ID: 1, Name: "flask-api", FullName: "octocat/flask-api", Owner: "octocat",
			Description: "A small Python web service", Language: "Python", Stars: 150,
			DefaultBranch: "main", URL: "https://github.com/octocat/flask-api", UpdatedAt: fixedNow.AddDate(0, 0, -3)},
		{ID: 2, Name: "dotfiles", FullName: "octocat/dotfiles", Owner: "octocat",
			Language: "Shell", DefaultBranch: "master", UpdatedAt: fixedNow.AddDate(-2, 0, 0)},
		{ID: 3, Name: "Notes", FullName: "octocat/Notes", Owner: "octocat",
			Description: "Reading notes", DefaultBranch: "main", UpdatedAt: fixedNow.AddDate(0, -2, 0)},
	}
}

func newTestCatalog(t *testing.T) (*RepositoryCatalog, *fakeHost, *fakeConns) {
	t.Helper()
	store, conns, _ := newTestConnStore(t)
	host := &fakeHost{repos: sampleRepos()}
	c := NewRepositoryCatalog(host, store, quietLogger())
	c.now = func() time.Time { return fixedNow }
	return c, host, conns
}

func TestListRepositories_NotConnected(t *testing.T) {
	c, host, _ := newTestCatalog(t)

	_, err := c.ListRepositories(context.Background(), "user-1", "")
	assert.ErrorIs(t, err, apperror.ErrNotConnected)
	assert.Empty(t, host.tokens, "GitHub must not be called without a connection")
}

func TestListRepositories(t *testing.T) {
	c, host, conns := newTestCatalog(t)
	connect(t, conns, "user-1", testToken)

	repos, err := c.ListRepositories(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Len(t, repos, 3)
	assert.Equal(t, []string{testToken}, host.tokens)
}

func TestListRepositories_AlwaysLive(t *testing.T) {
	c, host, conns := newTestCatalog(t)
	connect(t, conns, "user-1", testToken)
	ctx := context.Background()

	_, err := c.ListRepositories(ctx, "user-1", "")
	require.NoError(t, err)
	host.repos = host.repos[:1]

	repos, err := c.ListRepositories(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestListRepositories_Query(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"flask", []string{"flask-api"}},
		{"FLASK", []string{"flask-api"}},
		{"octocat/dot", []string{"dotfiles"}},
		{"reading", []string{"Notes"}},
		{"  ", []string{"flask-api", "dotfiles", "Notes"}},
		{"nothing-matches", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _, conns := newTestCatalog(t)
			connect(t, conns, "user-1", testToken)

			repos, err := c.ListRepositories(context.Background(), "user-1", tt.query)
			require.NoError(t, err)
			var names []string
			for _, r := range repos {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestListRepositories_UpstreamErrorIsDistinct(t *testing.T) {
	c, host, conns := newTestCatalog(t)
	connect(t, conns, "user-1", testToken)
	host.err = apperror.Upstream("GitHub listing repositories")

	_, err := c.ListRepositories(context.Background(), "user-1", "")
	assert.ErrorIs(t, err, apperror.ErrUpstream)
	assert.NotErrorIs(t, err, apperror.ErrNotConnected)
}

func TestValidateSuitability(t *testing.T) {
	c, _, _ := newTestCatalog(t)
	repos := sampleRepos()

	t.Run("python repo", func(t *testing.T) {
		s := c.ValidateSuitability(repos[0])
		assert.True(t, s.IsSuitable)
		// 0.5 language + 0.1 fresh + 0.1 stars + 0.1 name + 0.1 desc keyword + 0.2 "python"
		assert.Equal(t, 1.0, s.ConfidenceScore)
		assert.Empty(t, s.Warnings)
		assert.Equal(t, "python", s.Analysis.Language)
		assert.True(t, s.Analysis.HasDescription)
	})

	t.Run("non-python repo", func(t *testing.T) {
		s := c.ValidateSuitability(repos[1])
		assert.False(t, s.IsSuitable)
		assert.Equal(t, 0.0, s.ConfidenceScore)
		assert.Contains(t, s.Warnings, "Repository language is Shell, not Python")
		assert.Contains(t, s.Warnings, "Repository has no description")
		assert.Contains(t, s.Warnings, "Repository hasn't been updated in 730 days")
	})

	t.Run("unknown language", func(t *testing.T) {
		s := c.ValidateSuitability(repos[2])
		assert.False(t, s.IsSuitable)
		assert.Contains(t, s.Warnings, "Repository last updated 61 days ago")
	})

	t.Run("known other language never suitable", func(t *testing.T) {
		s := c.ValidateSuitability(model.RepoSummary{
			Name: "python-tool-app", Language: "Go", Stars: 500,
			Description: "python web api tool", UpdatedAt: fixedNow,
		})
		assert.GreaterOrEqual(t, s.ConfidenceScore, SuitabilityThreshold)
		assert.False(t, s.IsSuitable)
	})

	t.Run("fork and private", func(t *testing.T) {
		s := c.ValidateSuitability(model.RepoSummary{Name: "x", Language: "Python", Fork: true, Private: true})
		assert.Contains(t, s.Warnings, "This is a forked repository")
		assert.Contains(t, s.Warnings, "This is a private repository")
		assert.True(t, s.Analysis.IsFork)
		assert.True(t, s.Analysis.IsPrivate)
	})

	t.Run("confidence stays in range", func(t *testing.T) {
		for _, r := range repos {
			s := c.ValidateSuitability(r)
			assert.GreaterOrEqual(t, s.ConfidenceScore, 0.0)
			assert.LessOrEqual(t, s.ConfidenceScore, 1.0)
		}
	})
}

func TestValidateSuitability_NonPythonCanStillBeRegistered(t *testing.T) {
	c, _, conns := newTestCatalog(t)
	connect(t, conns, "user-1", testToken)
	r := NewProjectRegistrar(newFakeProjects(), c, newFakeBlobs(), DefaultUploadLimits(), quietLogger())

	s := c.ValidateSuitability(sampleRepos()[1])
	require.False(t, s.IsSuitable)
	require.NotEmpty(t, s.Warnings)

	p, err := r.RegisterFromRepository(context.Background(), "user-1", RepositoryRef{Owner: "octocat", Name: "dotfiles"})
	require.NoError(t, err)
	assert.Equal(t, "octocat/dotfiles", p.FullName())
}
