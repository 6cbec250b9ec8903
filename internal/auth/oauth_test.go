package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/archon/internal/apperror"
)

// fakeGitHub serves the token endpoint and GET /user.
func fakeGitHub(t *testing.T, tokenHandler http.HandlerFunc) *GitHubProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", tokenHandler)
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "login": "octocat", "avatar_url": "https://avatars.example/42"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p, err := NewGitHubProvider(GitHubConfig{
		ClientID:     "cid",
		ClientSecret: "csecret",
		CallbackURL:  "http://localhost/api/connection/callback",
		Scopes:       []string{"repo", "read:user"},
		Endpoint: &oauth2.Endpoint{
			AuthURL:   srv.URL + "/login/oauth/authorize",
			TokenURL:  srv.URL + "/login/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		APIBaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewGitHubProvider() error = %v", err)
	}
	return p
}

func TestAuthURL_CarriesStateAndScopes(t *testing.T) {
	p := fakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {})

	u, err := url.Parse(p.AuthURL("state-123"))
	if err != nil {
		t.Fatalf("parsing AuthURL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-123" || q.Get("client_id") != "cid" {
		t.Errorf("query = %v", q)
	}
	if !strings.Contains(q.Get("scope"), "repo") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestExchange_Success(t *testing.T) {
	p := fakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_good","token_type":"bearer","scope":"repo,read:user"}`))
	})

	g, err := p.Exchange(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if g.AccessToken != "gho_good" || g.UserID != 42 || g.Login != "octocat" || g.Scopes != "repo,read:user" {
		t.Errorf("grant = %+v", g)
	}
}

func TestExchange_BadCode(t *testing.T) {
	p := fakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`))
	})

	_, err := p.Exchange(context.Background(), "stale")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrOAuthFailed) || appErr.Reason != apperror.ReasonProvider {
		t.Fatalf("expected OAuthFailed(provider), got %v", err)
	}
	if strings.Contains(err.Error(), "stale") {
		t.Error("error message leaks the authorization code")
	}
}

func TestExchange_Timeout(t *testing.T) {
	p := fakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Exchange(ctx, "code")
	if !errors.Is(err, apperror.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestExchange_IdentityLookupFails(t *testing.T) {
	p := fakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_revoked","token_type":"bearer"}`))
	})

	_, err := p.Exchange(context.Background(), "code")
	if !errors.Is(err, apperror.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}
