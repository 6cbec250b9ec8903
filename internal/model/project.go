package model

import "time"

// ProjectSource discriminates how a project's code was obtained.
type ProjectSource string

const (
	SourceRemote   ProjectSource = "remote"
	SourceUploaded ProjectSource = "uploaded"
)

// Project is a unit of analyzable code.
//
// Remote coordinates (RepoOwner, RepoName, RepoURL, DefaultBranch) are set
// only for SourceRemote; Upload only for SourceUploaded.
type Project struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Name           string          `json:"name"`
	Source         ProjectSource   `json:"source"`
	RepoOwner      string          `json:"repoOwner,omitempty"`
	RepoName       string          `json:"repoName,omitempty"`
	RepoURL        string          `json:"repoUrl,omitempty"`
	DefaultBranch  string          `json:"defaultBranch,omitempty"`
	Upload         *UploadMetadata `json:"upload,omitempty"`
	LastAnalysisID string          `json:"lastAnalysisId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// IsRemote reports whether the project was imported from GitHub.
func (p *Project) IsRemote() bool { return p.Source == SourceRemote }

// FullName returns "owner/name" for remote projects.
func (p *Project) FullName() string {
	if !p.IsRemote() {
		return ""
	}
	return p.RepoOwner + "/" + p.RepoName
}

// UploadMetadata summarises an accepted upload batch. Tree is the file tree
// derived at registration; listings drop it, see WithoutTree.
type UploadMetadata struct {
	FileCount     int               `json:"fileCount"`
	TotalBytes    int64             `json:"totalBytes"`
	PythonFiles   int               `json:"pythonFiles"`
	HasManifest   bool              `json:"hasManifest"`
	RejectedCount int               `json:"rejectedCount"`
	Tree          []*RepositoryNode `json:"tree,omitempty"`
}

// WithoutTree returns a copy of m with Tree cleared. It returns nil for a
// nil m.
func (m *UploadMetadata) WithoutTree() *UploadMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Tree = nil
	return &c
}

// ProjectFile is the metadata row of one uploaded file. Content lives in the
// blob store under BlobHash.
type ProjectFile struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	BlobHash  string `json:"blobHash"`
}

// ProjectSummary is a project plus its latest analysis, the shape returned
// by the project listing.
type ProjectSummary struct {
	Project
	LatestAnalysis *Analysis `json:"latestAnalysis,omitempty"`
	InFlight       bool      `json:"inFlight"`
}
