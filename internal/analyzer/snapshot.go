// Package analyzer scores a point-in-time copy of a project's files.
//
// The Engine fans a Snapshot out to every registered Checker, collects their
// issues and folds them into the four category scores plus a weighted
// overall score. Checkers are independent: one failing only drops its own
// findings.
package analyzer

import (
	"path"
	"strings"
)

// SourceFile is one file of a snapshot, addressed by its slash-separated path
// relative to the project root.
type SourceFile struct {
	Path    string
	Content []byte
}

// Snapshot is the full set of files an analysis runs over.
type Snapshot struct {
	Files []SourceFile
}

// Size returns the total content size in bytes.
func (s *Snapshot) Size() int64 {
	var n int64
	for _, f := range s.Files {
		n += int64(len(f.Content))
	}
	return n
}

// PythonFiles returns the files with a .py extension.
func (s *Snapshot) PythonFiles() []SourceFile {
	var out []SourceFile
	for _, f := range s.Files {
		if strings.EqualFold(path.Ext(f.Path), ".py") {
			out = append(out, f)
		}
	}
	return out
}

// Lookup returns the file at p, if present.
func (s *Snapshot) Lookup(p string) (SourceFile, bool) {
	for _, f := range s.Files {
		if f.Path == p {
			return f, true
		}
	}
	return SourceFile{}, false
}

var (
	docExtensions = map[string]bool{
		".md": true, ".txt": true, ".rst": true, ".pdf": true, ".doc": true, ".docx": true,
	}
	docBasenames = map[string]bool{
		"license": true, "changelog": true, "authors": true, "contributors": true,
		"copying": true, "install": true, "news": true, "readme": true,
	}
)

// HasCode reports whether the snapshot holds anything besides documentation.
// An empty snapshot has no code.
func (s *Snapshot) HasCode() bool {
	for _, f := range s.Files {
		if isDocFile(f.Path) {
			continue
		}
		return true
	}
	return false
}

func isDocFile(p string) bool {
	p = strings.ToLower(p)
	if p == ".git" || strings.HasPrefix(p, ".git/") || strings.Contains(p, "/.git/") {
		return true
	}
	base := path.Base(p)
	ext := path.Ext(base)
	if docExtensions[ext] {
		return true
	}
	return docBasenames[strings.TrimSuffix(base, ext)]
}
