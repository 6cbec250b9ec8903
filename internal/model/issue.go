package model

import (
	"fmt"
	"sort"
)

// Category is one of the four fixed scoring categories.
type Category string

const (
	CategoryStructure    Category = "Structure"
	CategoryQuality      Category = "Quality"
	CategorySecurity     Category = "Security"
	CategoryDependencies Category = "Dependencies"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryStructure, CategoryQuality, CategorySecurity, CategoryDependencies}

func (c Category) Valid() bool {
	switch c {
	case CategoryStructure, CategoryQuality, CategorySecurity, CategoryDependencies:
		return true
	}
	return false
}

// Severity is ordered Critical > High > Medium > Low.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// Severities lists every level from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank returns 0 for Critical up to 3 for Low; unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

func (s Severity) Valid() bool { return s.Rank() < 4 }

// Issue is one finding of an analysis. The optional fields replace free-text
// description parsing: each piece of tool output has its own field.
type Issue struct {
	ID            string   `json:"id"`
	AnalysisID    string   `json:"analysisId"`
	Category      Category `json:"category"`
	Severity      Severity `json:"severity"`
	Tool          string   `json:"tool,omitempty"`
	RuleID        string   `json:"ruleId,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	FilePath      string   `json:"filePath"`
	LineNumber    *int     `json:"lineNumber,omitempty"`
	StartLine     *int     `json:"startLine,omitempty"`
	EndLine       *int     `json:"endLine,omitempty"`
	StartColumn   *int     `json:"startColumn,omitempty"`
	EndColumn     *int     `json:"endColumn,omitempty"`
	Confidence    string   `json:"confidence,omitempty"`
	FixSuggestion string   `json:"fixSuggestion,omitempty"`
	MoreInfoURL   string   `json:"moreInfoUrl,omitempty"`
}

// Validate checks the fields the store relies on.
func (i *Issue) Validate() error {
	if !i.Category.Valid() {
		return fmt.Errorf("invalid category %q", i.Category)
	}
	if !i.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", i.Severity)
	}
	if i.LineNumber != nil && *i.LineNumber <= 0 {
		return fmt.Errorf("line number must be positive, got %d", *i.LineNumber)
	}
	return nil
}

// Line returns a pointer to n, or nil when n is not a valid line number.
func Line(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

// SortIssues orders issues by severity, then file path, then line.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		ia, ib := issues[a], issues[b]
		if ra, rb := ia.Severity.Rank(), ib.Severity.Rank(); ra != rb {
			return ra < rb
		}
		if ia.FilePath != ib.FilePath {
			return ia.FilePath < ib.FilePath
		}
		return lineOf(ia) < lineOf(ib)
	})
}

func lineOf(i Issue) int {
	if i.LineNumber == nil {
		return 0
	}
	return *i.LineNumber
}
