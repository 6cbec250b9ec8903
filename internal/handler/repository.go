package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
)

// Catalog lists the caller's GitHub repositories and rates them.
type Catalog interface {
	ListRepositories(ctx context.Context, userID, query string) ([]model.RepoSummary, error)
	GetRepository(ctx context.Context, userID, owner, name string) (*model.RepoSummary, error)
	ValidateSuitability(repo model.RepoSummary) *model.Suitability
}

type RepositoryHandler struct {
	catalog Catalog
}

func NewRepositoryHandler(catalog Catalog) *RepositoryHandler {
	return &RepositoryHandler{catalog: catalog}
}

// HandleList returns the caller's repositories, filtered by ?q= when given.
//
// HTTP: GET /api/repositories?q=
func (h *RepositoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	repos, err := h.catalog.ListRepositories(r.Context(), id, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	if repos == nil {
		repos = []model.RepoSummary{}
	}
	writeJSON(w, http.StatusOK, repos)
}

// HandleValidate scores a repository for analysis. The body is either a
// full summary from the listing or just {owner, name}, in which case the
// summary is fetched first.
//
// HTTP: POST /api/repositories/validate
func (h *RepositoryHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var repo model.RepoSummary
	if err := decodeJSON(r, &repo); err != nil {
		writeError(w, err)
		return
	}

	if repo.ID == 0 && repo.FullName == "" {
		owner, name := strings.TrimSpace(repo.Owner), strings.TrimSpace(repo.Name)
		if owner == "" || name == "" {
			writeError(w, apperror.ValidationFailed("repository", "owner and name are required"))
			return
		}
		fetched, err := h.catalog.GetRepository(r.Context(), id, owner, name)
		if err != nil {
			writeError(w, err)
			return
		}
		repo = *fetched
	}

	writeJSON(w, http.StatusOK, h.catalog.ValidateSuitability(repo))
}
