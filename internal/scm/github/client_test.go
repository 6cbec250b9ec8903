package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/archon/internal/apperror"
)

func newTestClient(t *testing.T, mux *http.ServeMux, maxBytes int64) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(Options{APIBaseURL: srv.URL, MaxContentBytes: maxBytes})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestListRepositories_Paginates(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_t", r.Header.Get("Authorization"))
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, 200, `[{"id":2,"name":"two","full_name":"octo/two","owner":{"login":"octo"},"language":"Go"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/user/repos?page=2>; rel="next"`, srvURL))
		writeJSON(w, 200, `[{"id":1,"name":"one","full_name":"octo/one","owner":{"login":"octo"},
			"language":"Python","stargazers_count":12,"default_branch":"main","html_url":"https://github.com/octo/one",
			"updated_at":"2026-01-02T03:04:05Z"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL
	c, err := New(Options{APIBaseURL: srv.URL})
	require.NoError(t, err)

	repos, err := c.ListRepositories(context.Background(), "gho_t")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "octo/one", repos[0].FullName)
	assert.Equal(t, "Python", repos[0].Language)
	assert.Equal(t, 12, repos[0].Stars)
	assert.Equal(t, "octo", repos[0].Owner)
	assert.False(t, repos[0].UpdatedAt.IsZero())
	assert.Equal(t, "two", repos[1].Name)
}

func TestListRepositories_Unauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, `{"message":"Bad credentials"}`)
	})
	c := newTestClient(t, mux, 0)

	_, err := c.ListRepositories(context.Background(), "gho_revoked")
	assert.True(t, errors.Is(err, apperror.ErrNotConnected), "got %v", err)
	assert.NotContains(t, err.Error(), "gho_revoked")
}

func TestListRepositories_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, `{"message":"oops"}`)
	})
	c := newTestClient(t, mux, 0)

	_, err := c.ListRepositories(context.Background(), "t")
	assert.True(t, errors.Is(err, apperror.ErrUpstream), "got %v", err)
}

func treeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/branches/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"name":"main","commit":{"sha":"abc123"}}`)
	})
	mux.HandleFunc("/repos/octo/hello/branches/ghost", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, `{"message":"Branch not found"}`)
	})
	mux.HandleFunc("/repos/octo/hello/git/trees/abc123", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `{"sha":"abc123","truncated":false,"tree":[
			{"path":"src","type":"tree"},
			{"path":"src/app.py","type":"blob","size":120},
			{"path":"README.md","type":"blob","size":10},
			{"path":"vendor/lib","type":"commit"}
		]}`)
	})
	return mux
}

func TestGetTree(t *testing.T) {
	c := newTestClient(t, treeMux(), 0)

	tree, err := c.GetTree(context.Background(), "t", "octo", "hello", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tree.CommitSHA)
	assert.False(t, tree.Truncated)
	require.Len(t, tree.Entries, 3, "submodule entries are skipped")
	assert.True(t, tree.Entries[0].IsDir)
	assert.Equal(t, int64(120), tree.Entries[1].Size)
}

func TestGetTree_UnknownBranch(t *testing.T) {
	c := newTestClient(t, treeMux(), 0)

	_, err := c.GetTree(context.Background(), "t", "octo", "hello", "ghost")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func contentMux(files map[string]string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/contents/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/repos/octo/hello/contents/")
		if path == "src" {
			writeJSON(w, 200, `[{"type":"file","name":"app.py","path":"src/app.py"}]`)
			return
		}
		body, ok := files[path]
		if !ok {
			writeJSON(w, 404, `{"message":"Not Found"}`)
			return
		}
		enc := base64.StdEncoding.EncodeToString([]byte(body))
		writeJSON(w, 200, fmt.Sprintf(`{"type":"file","encoding":"base64","size":%d,"name":"%s","path":"%s","content":"%s"}`,
			len(body), path, path, enc))
	})
	return mux
}

func TestGetFileContent(t *testing.T) {
	c := newTestClient(t, contentMux(map[string]string{
		"app.py":  "print('hi')\n",
		"big.py":  strings.Repeat("x", 64),
		"img.bin": "\xff\xfe\x00binary",
	}), 32)
	ctx := context.Background()

	got, err := c.GetFileContent(ctx, "t", "octo", "hello", "app.py", "main")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", got)

	cases := []struct {
		path string
		want error
	}{
		{"missing/path.py", apperror.ErrNotFound},
		{"big.py", apperror.ErrTooLarge},
		{"img.bin", apperror.ErrValidation},
		{"src", apperror.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			_, err := c.GetFileContent(ctx, "t", "octo", "hello", tc.path, "main")
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestListBranches(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/hello/branches", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, `[{"name":"main"},{"name":"dev"}]`)
	})
	c := newTestClient(t, mux, 0)

	names, err := c.ListBranches(context.Background(), "t", "octo", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "dev"}, names)
}
