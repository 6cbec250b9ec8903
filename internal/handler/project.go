package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/service"
)

// multipartOverhead is headroom for form boundaries and field values on
// top of the configured upload limit.
const multipartOverhead = 8 << 20

// Projects registers and manages the caller's projects.
type Projects interface {
	RegisterFromRepository(ctx context.Context, userID string, ref service.RepositoryRef) (*model.Project, error)
	RegisterFromUpload(ctx context.Context, userID, name string, files []service.UploadFile) (*model.Project, error)
	GetProject(ctx context.Context, userID, projectID string) (*model.Project, error)
	ListProjects(ctx context.Context, userID string) ([]model.ProjectSummary, error)
	DeleteProject(ctx context.Context, userID, projectID string) error
}

// FileBrowser reads a project's tree and file contents.
type FileBrowser interface {
	ListFiles(ctx context.Context, userID, projectID, branch string) (*service.FileTree, error)
	GetFileContent(ctx context.Context, userID, projectID, path, branch string) (*service.FileContent, error)
}

// ProjectHandler serves project CRUD, uploads and file browsing.
type ProjectHandler struct {
	projects       Projects
	files          FileBrowser
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewProjectHandler creates a ProjectHandler. maxUploadBytes is the total
// upload limit; request bodies beyond it are cut off before parsing.
func NewProjectHandler(projects Projects, files FileBrowser, maxUploadBytes int64, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects:       projects,
		files:          files,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// HandleList returns the caller's projects with their latest analysis.
//
// HTTP: GET /api/projects
func (h *ProjectHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	projects, err := h.projects.ListProjects(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleCreate imports a GitHub repository as a project.
//
// HTTP: POST /api/projects
// REQUEST BODY: {"owner": "octocat", "name": "hello-world"}
func (h *ProjectHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var ref service.RepositoryRef
	if err := decodeJSON(r, &ref); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.projects.RegisterFromRepository(r.Context(), id, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleUpload creates a project from a multipart batch: one "files[]" part
// per file, the relative path in a parallel "paths[]" value (or in the part
// filename), and the project "name".
//
// HTTP: POST /api/projects/upload
func (h *ProjectHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, apperror.TooLarge("upload", h.maxUploadBytes))
			return
		}
		writeError(w, apperror.ValidationFailed("files", "expected a multipart form upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := readUpload(r.MultipartForm)
	if err != nil {
		writeError(w, err)
		return
	}

	var name string
	if vs := formValues(r.MultipartForm, "name"); len(vs) > 0 {
		name = strings.TrimSpace(vs[0])
	}
	p, err := h.projects.RegisterFromUpload(r.Context(), id, name, files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// readUpload pairs every file part with its relative path.
func readUpload(form *multipart.Form) ([]service.UploadFile, error) {
	headers := formFiles(form, "files[]", "files")
	if len(headers) == 0 {
		return nil, apperror.ValidationFailed("files", "at least one file is required")
	}
	paths := formValues(form, "paths[]", "paths")
	if len(paths) > 0 && len(paths) != len(headers) {
		return nil, apperror.ValidationFailed("paths", "paths must match files one to one")
	}

	files := make([]service.UploadFile, 0, len(headers))
	for i, fh := range headers {
		p := fh.Filename
		if len(paths) > 0 {
			p = paths[i]
		}
		content, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("handler: reading upload %q: %w", p, err)
		}
		files = append(files, service.UploadFile{Path: p, Content: content})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formFiles(form *multipart.Form, keys ...string) []*multipart.FileHeader {
	for _, k := range keys {
		if fhs := form.File[k]; len(fhs) > 0 {
			return fhs
		}
	}
	return nil
}

func formValues(form *multipart.Form, keys ...string) []string {
	for _, k := range keys {
		if vs := form.Value[k]; len(vs) > 0 {
			return vs
		}
	}
	return nil
}

// HandleGet returns one project.
//
// HTTP: GET /api/projects/{id}
func (h *ProjectHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.projects.GetProject(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleDelete removes a project with its analyses and file metadata.
//
// HTTP: DELETE /api/projects/{id}
func (h *ProjectHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	projectID := chi.URLParam(r, "id")
	if err := h.projects.DeleteProject(r.Context(), id, projectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFiles returns the file tree of one branch. Uploaded projects have
// no branches; their tree was fixed at upload time.
//
// HTTP: GET /api/projects/{id}/files?branch=
func (h *ProjectHandler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	projectID := chi.URLParam(r, "id")

	p, err := h.projects.GetProject(r.Context(), id, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !p.IsRemote() {
		tree := []*model.RepositoryNode{}
		if p.Upload != nil && p.Upload.Tree != nil {
			tree = p.Upload.Tree
		}
		writeJSON(w, http.StatusOK, &service.FileTree{Branches: []string{}, Tree: tree})
		return
	}

	tree, err := h.files.ListFiles(r.Context(), id, projectID, r.URL.Query().Get("branch"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// HandleFileContent returns the text of one file.
//
// HTTP: GET /api/projects/{id}/files/content?path=&branch=
func (h *ProjectHandler) HandleFileContent(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	content, err := h.files.GetFileContent(r.Context(), id, chi.URLParam(r, "id"), q.Get("path"), q.Get("branch"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}
