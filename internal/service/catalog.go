package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
)

// SuitabilityThreshold is the confidence at which a repository is reported
// as suitable.
const SuitabilityThreshold = 0.3

var repoKeywords = []string{"python", "py", "django", "flask", "fastapi", "api", "web", "app", "tool", "script"}

// RepositoryCatalog lists the user's GitHub repositories and rates them.
// The list is always fetched live.
type RepositoryCatalog struct {
	host   RepositoryHost
	conns  *IdentityConnectionStore
	now    func() time.Time
	logger *slog.Logger
}

func NewRepositoryCatalog(host RepositoryHost, conns *IdentityConnectionStore, logger *slog.Logger) *RepositoryCatalog {
	return &RepositoryCatalog{host: host, conns: conns, now: time.Now, logger: logger}
}

// ListRepositories returns every repository the user can access, most
// recently updated first. query filters case-insensitively on name, full
// name and description. Without a connection it fails with NotConnected.
func (c *RepositoryCatalog) ListRepositories(ctx context.Context, userID, query string) ([]model.RepoSummary, error) {
	var repos []model.RepoSummary
	err := c.conns.WithCredential(ctx, userID, func(token string) error {
		var err error
		repos, err = c.host.ListRepositories(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return repos, nil
	}
	filtered := make([]model.RepoSummary, 0, len(repos))
	for _, r := range repos {
		if strings.Contains(strings.ToLower(r.Name), query) ||
			strings.Contains(strings.ToLower(r.FullName), query) ||
			strings.Contains(strings.ToLower(r.Description), query) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// GetRepository fetches one repository's summary.
func (c *RepositoryCatalog) GetRepository(ctx context.Context, userID, owner, name string) (*model.RepoSummary, error) {
	if owner == "" || name == "" {
		return nil, apperror.ValidationFailed("repository", "owner and name are required")
	}
	var repo *model.RepoSummary
	err := c.conns.WithCredential(ctx, userID, func(token string) error {
		var err error
		repo, err = c.host.GetRepository(ctx, token, owner, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// ValidateSuitability rates how likely repo is to be an analyzable Python
// project. It is advisory only and never blocks registration. A repository
// whose primary language is known and is not Python is never suitable.
func (c *RepositoryCatalog) ValidateSuitability(repo model.RepoSummary) *model.Suitability {
	var (
		confidence float64
		warnings   = []string{}
	)

	language := strings.ToLower(repo.Language)
	otherLanguage := false
	switch language {
	case "python":
		confidence += 0.5
	case "jupyter notebook":
		confidence += 0.3
	case "":
	default:
		otherLanguage = true
		warnings = append(warnings, fmt.Sprintf("Repository language is %s, not Python", repo.Language))
		confidence -= 0.2
	}

	if !repo.UpdatedAt.IsZero() {
		days := int(c.now().Sub(repo.UpdatedAt).Hours() / 24)
		switch {
		case days > 365:
			warnings = append(warnings, fmt.Sprintf("Repository hasn't been updated in %d days", days))
		case days > 30:
			warnings = append(warnings, fmt.Sprintf("Repository last updated %d days ago", days))
		default:
			confidence += 0.1
		}
	}

	switch {
	case repo.Stars > 100:
		confidence += 0.1
	case repo.Stars > 10:
		confidence += 0.05
	}

	if containsAny(strings.ToLower(repo.Name), repoKeywords) {
		confidence += 0.1
	}

	description := strings.ToLower(repo.Description)
	if description != "" {
		if containsAny(description, repoKeywords) {
			confidence += 0.1
		}
		if strings.Contains(description, "python") {
			confidence += 0.2
		}
	} else {
		warnings = append(warnings, "Repository has no description")
	}

	if repo.Fork {
		warnings = append(warnings, "This is a forked repository")
	}
	if repo.Private {
		warnings = append(warnings, "This is a private repository")
	}

	confidence = math.Round(math.Min(math.Max(confidence, 0), 1)*100) / 100
	return &model.Suitability{
		IsSuitable:      !otherLanguage && confidence >= SuitabilityThreshold,
		ConfidenceScore: confidence,
		Warnings:        warnings,
		Analysis: model.SuitabilityAnalysis{
			Language:       language,
			Stars:          repo.Stars,
			IsFork:         repo.Fork,
			IsPrivate:      repo.Private,
			HasDescription: description != "",
		},
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
