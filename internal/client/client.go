// Package client is a Go client for the Archon HTTP API, used by archonctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/archon/internal/model"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status    int         `json:"-"`
	Code      string      `json:"error"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Details   []Rejection `json:"details,omitempty"`
}

// Rejection is one refused upload file.
type Rejection struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Session is the result of a login or registration.
type Session struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// Authorization is where the browser goes to connect GitHub.
type Authorization struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

// UploadFile is one file of an upload, Path relative to the project root.
type UploadFile struct {
	Path    string
	Content []byte
}

// FileTree is one branch's listing. Uploaded projects have no branches.
type FileTree struct {
	Branch    string                  `json:"branch"`
	Branches  []string                `json:"branches"`
	Truncated bool                    `json:"truncated"`
	Tree      []*model.RepositoryNode `json:"tree"`
}

// FileContent is the text of one file.
type FileContent struct {
	Path    string `json:"path"`
	Branch  string `json:"branch,omitempty"`
	Size    int    `json:"size"`
	Content string `json:"content"`
}

// Client talks to one server with one session token. It is safe for
// concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for baseURL. token may be empty for the public
// routes; httpClient nil selects a client with a 60 second timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// WithToken returns a copy of c that sends token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Register(ctx context.Context, email, password, displayName string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password, "displayName": displayName}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) ConnectionStatus(ctx context.Context) (*model.ConnectionStatus, error) {
	var s model.ConnectionStatus
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/connection/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Authorize(ctx context.Context) (*Authorization, error) {
	var a Authorization
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/connection/authorize", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/connection", nil, nil)
	return err
}

func (c *Client) ListRepositories(ctx context.Context, query string) ([]model.RepoSummary, error) {
	path := "/api/repositories"
	if query != "" {
		path += "?" + url.Values{"q": {query}}.Encode()
	}
	var repos []model.RepoSummary
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

func (c *Client) ValidateRepository(ctx context.Context, owner, name string) (*model.Suitability, error) {
	var s model.Suitability
	body := map[string]string{"owner": owner, "name": name}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/repositories/validate", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]model.ProjectSummary, error) {
	var projects []model.ProjectSummary
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ImportRepository registers owner/name as a project.
func (c *Client) ImportRepository(ctx context.Context, owner, name string) (*model.Project, error) {
	var p model.Project
	body := map[string]string{"owner": owner, "name": name}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/projects", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Upload sends files as one multipart batch. Paths travel in "paths[]"
// because multipart filenames lose their directories.
func (c *Client) Upload(ctx context.Context, name string, files []UploadFile) (*model.Project, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", name); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := mw.WriteField("paths[]", f.Path); err != nil {
			return nil, err
		}
		w, err := mw.CreateFormFile("files[]", f.Path)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var p model.Project
	if _, err := c.do(ctx, http.MethodPost, "/api/projects/upload", &buf, mw.FormDataContentType(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(id), nil, nil)
	return err
}

// ListFiles returns the file tree of branch, or of the default branch when
// branch is empty.
func (c *Client) ListFiles(ctx context.Context, projectID, branch string) (*FileTree, error) {
	path := "/api/projects/" + url.PathEscape(projectID) + "/files"
	if branch != "" {
		path += "?" + url.Values{"branch": {branch}}.Encode()
	}
	var t FileTree
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) GetFileContent(ctx context.Context, projectID, filePath, branch string) (*FileContent, error) {
	q := url.Values{"path": {filePath}}
	if branch != "" {
		q.Set("branch", branch)
	}
	var fc FileContent
	path := "/api/projects/" + url.PathEscape(projectID) + "/files/content?" + q.Encode()
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// StartAnalysis starts or joins an analysis. created is false when the
// server returned the one already in flight.
func (c *Client) StartAnalysis(ctx context.Context, projectID string) (a *model.Analysis, created bool, err error) {
	var out model.Analysis
	status, err := c.doJSON(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/analyze", nil, &out)
	if err != nil {
		return nil, false, err
	}
	return &out, status == http.StatusAccepted, nil
}

func (c *Client) ListAnalyses(ctx context.Context, projectID string) ([]model.Analysis, error) {
	var list []model.Analysis
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/analyses", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) GetReport(ctx context.Context, projectID string) (*model.Report, error) {
	var r model.Report
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/report", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	ctype := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("client: encoding request: %w", err)
		}
		body = bytes.NewReader(b)
		ctype = "application/json"
	}
	return c.do(ctx, method, path, body, ctype, out)
}

// do sends one request and decodes a 2xx body into out, or the error body
// into an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, ctype string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("client: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("client: decoding %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
