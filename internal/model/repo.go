package model

import (
	"sort"
	"strings"
	"time"
)

// RepoSummary is a remote repository as listed by the catalog.
type RepoSummary struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	Owner         string    `json:"owner"`
	Description   string    `json:"description"`
	Language      string    `json:"language"`
	Stars         int       `json:"stars"`
	Fork          bool      `json:"fork"`
	Private       bool      `json:"private"`
	DefaultBranch string    `json:"defaultBranch"`
	URL           string    `json:"url"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Suitability is the advisory result of the repository heuristic.
type Suitability struct {
	IsSuitable      bool                `json:"isSuitable"`
	ConfidenceScore float64             `json:"confidenceScore"`
	Warnings        []string            `json:"warnings"`
	Analysis        SuitabilityAnalysis `json:"analysis"`
}

// SuitabilityAnalysis echoes the signals the heuristic looked at.
type SuitabilityAnalysis struct {
	Language       string `json:"language"`
	Stars          int    `json:"stars"`
	IsFork         bool   `json:"isFork"`
	IsPrivate      bool   `json:"isPrivate"`
	HasDescription bool   `json:"hasDescription"`
}

// NodeType distinguishes files from folders in a tree.
type NodeType string

const (
	NodeFile   NodeType = "file"
	NodeFolder NodeType = "folder"
)

// RepositoryNode is one entry of a file tree. Children is set for folders
// only.
type RepositoryNode struct {
	Type     NodeType          `json:"type"`
	Path     string            `json:"path"`
	Name     string            `json:"name"`
	Size     int64             `json:"size,omitempty"`
	Children []*RepositoryNode `json:"children,omitempty"`
}

// TreeEntry is a flat path as returned by a recursive listing.
type TreeEntry struct {
	Path  string
	IsDir bool
	Size  int64
}

// BuildTree turns flat entries into a nested, sorted tree. Parent folders
// are created on demand, so listings that omit directory entries still
// produce a complete hierarchy. Folders sort before files, then by name.
func BuildTree(entries []TreeEntry) []*RepositoryNode {
	root := &RepositoryNode{Type: NodeFolder}
	folders := map[string]*RepositoryNode{"": root}

	var folder func(path string) *RepositoryNode
	folder = func(path string) *RepositoryNode {
		if n, ok := folders[path]; ok {
			return n
		}
		parentPath, name := splitPath(path)
		parent := folder(parentPath)
		n := &RepositoryNode{Type: NodeFolder, Path: path, Name: name}
		parent.Children = append(parent.Children, n)
		folders[path] = n
		return n
	}

	for _, e := range entries {
		p := strings.Trim(e.Path, "/")
		if p == "" {
			continue
		}
		if e.IsDir {
			folder(p)
			continue
		}
		parentPath, name := splitPath(p)
		parent := folder(parentPath)
		parent.Children = append(parent.Children, &RepositoryNode{
			Type: NodeFile, Path: p, Name: name, Size: e.Size,
		})
	}

	sortNodes(root.Children)
	return root.Children
}

func splitPath(p string) (parent, name string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func sortNodes(nodes []*RepositoryNode) {
	sort.Slice(nodes, func(a, b int) bool {
		if nodes[a].Type != nodes[b].Type {
			return nodes[a].Type == NodeFolder
		}
		return strings.ToLower(nodes[a].Name) < strings.ToLower(nodes[b].Name)
	})
	for _, n := range nodes {
		if n.Type == NodeFolder {
			sortNodes(n.Children)
		}
	}
}
