package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/archon/internal/config"
	"github.com/sakif/archon/internal/server"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "archon.db")
	cfg.Upload.BlobDir = filepath.Join(dir, "blobs")
	cfg.Auth.JWTSecret = "test-secret-at-least-16-chars!!"
	cfg.Auth.EncryptionKey = strings.Repeat("ab", 32)

	srv, err := server.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/me", "/api/projects", "/api/repositories", "/api/connection/status"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestRegisterThenUseBearerToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json",
		bytes.NewBufferString(`{"email":"ada@example.com","password":"correct horse"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	require.NotEmpty(t, sess.Token)

	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+sess.Token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	me := get("/api/me")
	assert.Equal(t, http.StatusOK, me.StatusCode)

	status := get("/api/connection/status")
	assert.Equal(t, http.StatusOK, status.StatusCode)
	body, _ := io.ReadAll(status.Body)
	assert.JSONEq(t, `{"connected":false}`, string(body))

	projects := get("/api/projects")
	assert.Equal(t, http.StatusOK, projects.StatusCode)

	report := get("/api/projects/missing/report")
	assert.Equal(t, http.StatusNotFound, report.StatusCode)
}
