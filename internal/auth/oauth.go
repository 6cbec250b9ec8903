package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/archon/internal/apperror"
)

// GitHubConfig configures the OAuth app. Endpoint and APIBaseURL default
// to github.com and are overridden in tests.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string
	Endpoint     *oauth2.Endpoint
	APIBaseURL   string
}

// Grant is the outcome of a successful code exchange. AccessToken is the
// only secret in it and must be sealed before it is stored.
type Grant struct {
	AccessToken string
	Scopes      string
	UserID      int64
	Login       string
	AvatarURL   string
}

// GitHubProvider runs the authorization code flow against GitHub.
type GitHubProvider struct {
	config     *oauth2.Config
	apiBaseURL *url.URL
}

func NewGitHubProvider(cfg GitHubConfig) (*GitHubProvider, error) {
	endpoint := github.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}

	p := &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
	}

	if cfg.APIBaseURL != "" {
		base := cfg.APIBaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("auth: parsing GitHub API URL: %w", err)
		}
		p.apiBaseURL = u
	}
	return p, nil
}

// AuthURL returns the GitHub authorization page for the given state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the callback code for an access token and looks up the
// identity it belongs to. The caller bounds ctx.
//
// Failures are classified: a rejected code or bad client credentials is
// OAuthFailed(provider), a deadline is UpstreamTimeout and anything else
// on the wire is Upstream. No error carries the code or the token.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(ctx, err)
	}

	client := gh.NewClient(p.config.Client(ctx, tok))
	if p.apiBaseURL != nil {
		client.BaseURL = p.apiBaseURL
	}

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperror.UpstreamTimeout("GitHub identity lookup")
		}
		return nil, apperror.Upstream("GitHub identity lookup")
	}
	if user.GetID() == 0 {
		return nil, apperror.OAuthFailed(apperror.ReasonProvider, "GitHub returned an invalid identity")
	}

	scopes, _ := tok.Extra("scope").(string)
	return &Grant{
		AccessToken: tok.AccessToken,
		Scopes:      scopes,
		UserID:      user.GetID(),
		Login:       user.GetLogin(),
		AvatarURL:   user.GetAvatarURL(),
	}, nil
}

func classifyExchangeError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.UpstreamTimeout("GitHub token exchange")
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := "GitHub rejected the authorization"
		switch re.ErrorCode {
		case "bad_verification_code":
			msg = "the authorization code is invalid or has expired"
		case "incorrect_client_credentials", "redirect_uri_mismatch":
			msg = "the GitHub OAuth app is misconfigured"
		}
		return apperror.OAuthFailed(apperror.ReasonProvider, msg)
	}
	return apperror.Upstream("GitHub token exchange")
}
