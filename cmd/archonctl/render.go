package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sakif/archon/internal/model"
)

// renderTable writes a borderless left-aligned table.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
			},
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.Off, Right: tw.Off, Top: tw.Off, Bottom: tw.Off},
			Settings: tw.Settings{
				Separators: tw.Separators{BetweenColumns: tw.Off},
			},
		}),
	)
	table.Header(headers)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

func severityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case model.SeverityHigh:
		return color.New(color.FgRed)
	case model.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func scoreColor(score float64) *color.Color {
	switch {
	case score >= 80:
		return color.New(color.FgGreen)
	case score >= 50:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func formatScore(score float64) string {
	return scoreColor(score).Sprintf("%5.1f", score)
}

// analysisLabel summarises the latest analysis of a project.
func analysisLabel(a *model.Analysis) string {
	if a == nil {
		return "never analyzed"
	}
	switch a.Status {
	case model.StatusCompleted:
		if a.Scores != nil {
			return fmt.Sprintf("completed (%.1f)", a.Scores.Overall)
		}
		return "completed"
	case model.StatusFailed:
		if a.FailureReason != "" {
			return "failed: " + a.FailureReason
		}
		return "failed"
	default:
		return string(a.Status)
	}
}

func issueLocation(i model.Issue) string {
	switch {
	case i.LineNumber != nil:
		return fmt.Sprintf("%s:%d", i.FilePath, *i.LineNumber)
	case i.StartLine != nil:
		return fmt.Sprintf("%s:%d", i.FilePath, *i.StartLine)
	default:
		return i.FilePath
	}
}

// renderReport prints the score card and the issue table.
func renderReport(w io.Writer, r *model.Report) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Overall score: %s\n\n", formatScore(r.Scores.Overall))

	cats := make([][]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		cats = append(cats, []string{string(c), formatScore(categoryScore(r.Scores, c)), fmt.Sprint(r.ByCategory[c])})
	}
	renderTable(w, []string{"Category", "Score", "Issues"}, cats)
	fmt.Fprintln(w)

	if len(r.Issues) == 0 {
		color.New(color.FgGreen).Fprintln(w, "No issues found")
		return
	}

	rows := make([][]string, 0, len(r.Issues))
	for _, i := range r.Issues {
		rows = append(rows, []string{
			severityColor(i.Severity).Sprint(strings.ToUpper(string(i.Severity))),
			string(i.Category),
			truncate(i.Title, 60),
			issueLocation(i),
		})
	}
	renderTable(w, []string{"Severity", "Category", "Issue", "Location"}, rows)
}

func categoryScore(s model.Scores, c model.Category) float64 {
	switch c {
	case model.CategoryStructure:
		return s.Structure
	case model.CategoryQuality:
		return s.Quality
	case model.CategorySecurity:
		return s.Security
	default:
		return s.Dependencies
	}
}

// truncate shortens s to maxLen runes, ending with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
