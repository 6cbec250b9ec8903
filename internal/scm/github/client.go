// Package github wraps the GitHub REST API and git transport for the calls
// Archon makes on a user's behalf: repository listing, branch and tree
// browsing, file contents and a shallow clone for analysis.
//
// Every method takes the user's access token explicitly. The token is never
// logged and never appears in a returned error.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	gh "github.com/google/go-github/v66/github"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
)

const perPage = 100

// Options configures a Client. Zero values select github.com.
type Options struct {
	APIBaseURL   string       // e.g. an httptest server in tests
	CloneBaseURL string       // defaults to https://github.com
	HTTPClient   *http.Client // defaults to http.DefaultClient
	// MaxContentBytes caps GetFileContent. Zero means no cap.
	MaxContentBytes int64
}

// Client is safe for concurrent use; it holds no per-user state.
type Client struct {
	apiBase         *url.URL
	cloneBase       string
	httpClient      *http.Client
	maxContentBytes int64
}

func New(opts Options) (*Client, error) {
	c := &Client{
		cloneBase:       "https://github.com",
		httpClient:      opts.HTTPClient,
		maxContentBytes: opts.MaxContentBytes,
	}
	if opts.CloneBaseURL != "" {
		c.cloneBase = strings.TrimSuffix(opts.CloneBaseURL, "/")
	}
	if opts.APIBaseURL != "" {
		base := opts.APIBaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github: parsing API base URL: %w", err)
		}
		c.apiBase = u
	}
	return c, nil
}

func (c *Client) api(token string) *gh.Client {
	client := gh.NewClient(c.httpClient).WithAuthToken(token)
	if c.apiBase != nil {
		client.BaseURL = c.apiBase
	}
	return client
}

// ListRepositories returns every repository the token's user can see,
// most recently updated first.
func (c *Client) ListRepositories(ctx context.Context, token string) ([]model.RepoSummary, error) {
	client := c.api(token)
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []model.RepoSummary
	for {
		repos, resp, err := client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, mapError(ctx, err, "listing repositories", "")
		}
		for _, r := range repos {
			all = append(all, toSummary(r))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *Client) GetRepository(ctx context.Context, token, owner, name string) (*model.RepoSummary, error) {
	r, _, err := c.api(token).Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, mapError(ctx, err, "fetching repository", owner+"/"+name)
	}
	s := toSummary(r)
	return &s, nil
}

// ListBranches returns branch names in API order.
func (c *Client) ListBranches(ctx context.Context, token, owner, name string) ([]string, error) {
	client := c.api(token)
	opts := &gh.BranchListOptions{ListOptions: gh.ListOptions{PerPage: perPage}}

	var names []string
	for {
		branches, resp, err := client.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			return nil, mapError(ctx, err, "listing branches", owner+"/"+name)
		}
		for _, b := range branches {
			names = append(names, b.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// Tree is a recursive listing of one branch.
type Tree struct {
	Branch    string
	CommitSHA string
	Truncated bool
	Entries   []model.TreeEntry
}

// GetTree resolves branch to its head commit and lists the full tree.
// An unknown branch is NotFound, never an empty tree.
func (c *Client) GetTree(ctx context.Context, token, owner, name, branch string) (*Tree, error) {
	client := c.api(token)

	b, _, err := client.Repositories.GetBranch(ctx, owner, name, branch, 1)
	if err != nil {
		return nil, mapError(ctx, err, "resolving branch", "branch "+branch)
	}
	sha := b.GetCommit().GetSHA()
	if sha == "" {
		return nil, apperror.NotFound("branch", branch)
	}

	t, _, err := client.Git.GetTree(ctx, owner, name, sha, true)
	if err != nil {
		return nil, mapError(ctx, err, "listing tree", "branch "+branch)
	}

	out := &Tree{Branch: branch, CommitSHA: sha, Truncated: t.GetTruncated()}
	for _, e := range t.Entries {
		switch e.GetType() {
		case "blob":
			out.Entries = append(out.Entries, model.TreeEntry{Path: e.GetPath(), Size: int64(e.GetSize())})
		case "tree":
			out.Entries = append(out.Entries, model.TreeEntry{Path: e.GetPath(), IsDir: true})
		}
		// "commit" entries are submodules and have no content here.
	}
	return out, nil
}

// GetFileContent returns the decoded text of path on branch. Directories,
// binary files and files over the size cap are rejected; a partial body is
// never returned.
func (c *Client) GetFileContent(ctx context.Context, token, owner, name, path, branch string) (string, error) {
	file, dir, _, err := c.api(token).Repositories.GetContents(ctx, owner, name, path,
		&gh.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return "", mapError(ctx, err, "fetching file", path)
	}
	if file == nil || dir != nil {
		return "", apperror.ValidationFailed("path", fmt.Sprintf("%s is a directory", path))
	}
	if c.maxContentBytes > 0 && int64(file.GetSize()) > c.maxContentBytes {
		return "", apperror.TooLarge(path, c.maxContentBytes)
	}

	// GitHub stops inlining content above 1 MiB.
	if file.GetEncoding() == "none" {
		return "", apperror.TooLarge(path, 1<<20)
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("github: decoding %s: %w", path, err)
	}
	if int64(len(content)) != int64(file.GetSize()) && file.GetSize() > 0 {
		return "", apperror.Upstream("fetching file")
	}
	if !utf8.ValidString(content) {
		return "", apperror.ValidationFailed("path", "binary file")
	}
	return content, nil
}

func toSummary(r *gh.Repository) model.RepoSummary {
	s := model.RepoSummary{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Owner:         r.GetOwner().GetLogin(),
		Description:   r.GetDescription(),
		Language:      r.GetLanguage(),
		Stars:         r.GetStargazersCount(),
		Fork:          r.GetFork(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		URL:           r.GetHTMLURL(),
	}
	if r.UpdatedAt != nil {
		s.UpdatedAt = r.UpdatedAt.Time
	}
	return s
}

// mapError turns go-github errors into the shared taxonomy. what names the
// resource for NotFound messages.
func mapError(ctx context.Context, err error, op, what string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.UpstreamTimeout("GitHub " + op)
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return apperror.Upstream("GitHub " + op + " (rate limited)")
	}

	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusNotFound:
			if what == "" {
				what = "resource"
			}
			return &apperror.AppError{Err: apperror.ErrNotFound, Message: what + " not found"}
		case http.StatusUnauthorized:
			return apperror.NotConnected()
		}
	}
	return apperror.Upstream("GitHub " + op)
}
