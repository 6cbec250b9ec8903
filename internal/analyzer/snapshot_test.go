package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_HasCode(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  bool
	}{
		{"empty", nil, false},
		{"readme and license", []string{"README.md", "LICENSE"}, false},
		{"doc basenames with extensions", []string{"CHANGELOG", "AUTHORS.txt", "docs/index.rst", "manual.pdf"}, false},
		{"git internals", []string{".git/config", "sub/.git/HEAD"}, false},
		{"python file", []string{"README.md", "app.py"}, true},
		{"config only", []string{"setup.cfg"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{}
			for _, p := range tt.paths {
				s.Files = append(s.Files, SourceFile{Path: p})
			}
			assert.Equal(t, tt.want, s.HasCode())
		})
	}
}

func TestSnapshot_PythonFilesAndSize(t *testing.T) {
	s := &Snapshot{Files: []SourceFile{
		{Path: "a.py", Content: []byte("12")},
		{Path: "B.PY", Content: []byte("345")},
		{Path: "notes.md", Content: []byte("6")},
	}}

	assert.Len(t, s.PythonFiles(), 2)
	assert.Equal(t, int64(6), s.Size())

	f, ok := s.Lookup("notes.md")
	assert.True(t, ok)
	assert.Equal(t, "6", string(f.Content))
	_, ok = s.Lookup("missing")
	assert.False(t, ok)
}
