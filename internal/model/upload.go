package model

import (
	"path"
	"strings"
)

var uploadExts = map[string]bool{
	".py": true, ".pyx": true, ".pyi": true, ".pyw": true,
	".txt": true, ".md": true, ".rst": true, ".doc": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".cfg": true, ".ini": true,
	".requirements": true, ".lock": true,
	".gitignore": true, ".gitattributes": true, ".dockerfile": true, ".dockerignore": true,
	".sh": true, ".bat": true, ".ps1": true, ".sql": true,
	".env": true, ".example": true,
}

// manifestNames are accepted regardless of extension.
var manifestNames = map[string]bool{
	"setup.py": true, "pyproject.toml": true, "requirements.txt": true,
	"Pipfile": true, "Pipfile.lock": true, "poetry.lock": true,
	"setup.cfg": true, "tox.ini": true, "Makefile": true, "Dockerfile": true,
	"LICENSE": true, "README": true, ".gitignore": true, ".python-version": true,
	"MANIFEST.in": true, "conda.yml": true, "environment.yml": true,
}

// UploadAllowed reports whether a file at slash-separated path p may be
// part of an upload, by well-known name or by extension.
func UploadAllowed(p string) bool {
	base := path.Base(p)
	if manifestNames[base] {
		return true
	}
	return uploadExts[strings.ToLower(path.Ext(base))]
}
