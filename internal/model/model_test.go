package model

import (
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AnalysisStatus
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusRunning, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestBuildTree(t *testing.T) {
	tree := BuildTree([]TreeEntry{
		{Path: "setup.py", Size: 10},
		{Path: "pkg/module.py", Size: 20},
		{Path: "pkg", IsDir: true},
		{Path: "README.md", Size: 5},
		{Path: "docs/guide/intro.md", Size: 7}, // parents missing from the listing
	})

	if len(tree) != 4 {
		t.Fatalf("len(tree) = %d, want 4", len(tree))
	}

	// folders first, alphabetical, then files
	wantOrder := []string{"docs", "pkg", "README.md", "setup.py"}
	for i, name := range wantOrder {
		if tree[i].Name != name {
			t.Errorf("tree[%d].Name = %q, want %q", i, tree[i].Name, name)
		}
	}

	docs := tree[0]
	if docs.Type != NodeFolder || len(docs.Children) != 1 || docs.Children[0].Path != "docs/guide" {
		t.Fatalf("docs folder not built from nested path: %+v", docs)
	}
	intro := docs.Children[0].Children[0]
	if intro.Path != "docs/guide/intro.md" || intro.Type != NodeFile || intro.Size != 7 {
		t.Errorf("intro = %+v", intro)
	}

	pkg := tree[1]
	if len(pkg.Children) != 1 || pkg.Children[0].Name != "module.py" {
		t.Errorf("pkg children = %+v", pkg.Children)
	}
}

func TestBuildTree_Empty(t *testing.T) {
	if tree := BuildTree(nil); len(tree) != 0 {
		t.Errorf("BuildTree(nil) = %v, want empty", tree)
	}
}

func TestSortIssues(t *testing.T) {
	issues := []Issue{
		{Title: "low", Severity: SeverityLow, FilePath: "a.py"},
		{Title: "high-b", Severity: SeverityHigh, FilePath: "b.py"},
		{Title: "critical", Severity: SeverityCritical, FilePath: "z.py"},
		{Title: "high-a-20", Severity: SeverityHigh, FilePath: "a.py", LineNumber: Line(20)},
		{Title: "high-a-3", Severity: SeverityHigh, FilePath: "a.py", LineNumber: Line(3)},
	}

	SortIssues(issues)

	want := []string{"critical", "high-a-3", "high-a-20", "high-b", "low"}
	for i, title := range want {
		if issues[i].Title != title {
			t.Errorf("issues[%d] = %q, want %q", i, issues[i].Title, title)
		}
	}
}

func TestIssueValidate(t *testing.T) {
	ok := Issue{Category: CategoryQuality, Severity: SeverityLow, LineNumber: Line(1)}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid issue: %v", err)
	}

	zero := 0
	bad := Issue{Category: CategoryQuality, Severity: SeverityLow, LineNumber: &zero}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for line number 0")
	}

	if err := (&Issue{Category: "Style", Severity: SeverityLow}).Validate(); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestLine(t *testing.T) {
	if Line(0) != nil || Line(-3) != nil {
		t.Error("Line should be nil for non-positive values")
	}
	if l := Line(7); l == nil || *l != 7 {
		t.Errorf("Line(7) = %v", l)
	}
}
