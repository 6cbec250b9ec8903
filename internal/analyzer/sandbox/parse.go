package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/sakif/archon/internal/model"
)

// ruffSeverity maps a rule-code prefix (the letters before the number) to a
// severity. Unknown prefixes are Low.
var ruffSeverity = map[string]model.Severity{
	"E": model.SeverityHigh, "F": model.SeverityHigh, "B": model.SeverityHigh, "S": model.SeverityHigh,
	"EXE": model.SeverityHigh, "FIX": model.SeverityHigh, "PL": model.SeverityHigh, "PT": model.SeverityHigh,
	"PGH": model.SeverityHigh,

	"W": model.SeverityMedium, "A": model.SeverityMedium, "EM": model.SeverityMedium, "FA": model.SeverityMedium,
	"PD": model.SeverityMedium, "RET": model.SeverityMedium, "RSE": model.SeverityMedium, "RUF": model.SeverityMedium,
	"SIM": model.SeverityMedium, "TCH": model.SeverityMedium, "ARG": model.SeverityMedium, "PTH": model.SeverityMedium,
	"NPY": model.SeverityMedium, "AIR": model.SeverityMedium,

	"C": model.SeverityLow, "COM": model.SeverityLow, "D": model.SeverityLow, "DTZ": model.SeverityLow,
	"FBT": model.SeverityLow, "FLY": model.SeverityLow, "G": model.SeverityLow, "I": model.SeverityLow,
	"ICN": model.SeverityLow, "INP": model.SeverityLow, "ISC": model.SeverityLow, "N": model.SeverityLow,
	"PIE": model.SeverityLow, "Q": model.SeverityLow, "TID": model.SeverityLow, "ERA": model.SeverityLow,
}

func ruffSeverityFor(code string) model.Severity {
	prefix := strings.TrimRightFunc(code, unicode.IsDigit)
	if sev, ok := ruffSeverity[prefix]; ok {
		return sev
	}
	return model.SeverityLow
}

// banditSeverity combines bandit's severity and confidence.
func banditSeverity(severity, confidence string) model.Severity {
	severity = strings.ToUpper(severity)
	confidence = strings.ToUpper(confidence)
	switch {
	case severity == "HIGH" && confidence == "HIGH":
		return model.SeverityCritical
	case severity == "HIGH":
		return model.SeverityHigh
	case severity == "MEDIUM" && confidence == "HIGH":
		return model.SeverityHigh
	case severity == "MEDIUM", severity == "":
		return model.SeverityMedium
	}
	return model.SeverityLow
}

type ruffLocation struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

type ruffDiagnostic struct {
	Code        *string       `json:"code"`
	Message     string        `json:"message"`
	Filename    string        `json:"filename"`
	URL         string        `json:"url"`
	Location    ruffLocation  `json:"location"`
	EndLocation *ruffLocation `json:"end_location"`
	Fix         *struct {
		Message string `json:"message"`
	} `json:"fix"`
}

// ParseRuff converts `ruff check --output-format=json` output into Quality
// issues. Paths are made relative to workdir.
func ParseRuff(out []byte, workdir string) ([]model.Issue, error) {
	if len(strings.TrimSpace(string(out))) == 0 {
		return nil, nil
	}
	var diags []ruffDiagnostic
	if err := json.Unmarshal(out, &diags); err != nil {
		return nil, fmt.Errorf("sandbox: parse ruff output: %w", err)
	}

	issues := make([]model.Issue, 0, len(diags))
	for _, d := range diags {
		code := ""
		if d.Code != nil {
			code = *d.Code
		}
		title := d.Message
		if code != "" {
			title = code + ": " + d.Message
		}

		is := model.Issue{
			Category:    model.CategoryQuality,
			Severity:    ruffSeverityFor(code),
			Tool:        "ruff",
			RuleID:      code,
			Title:       title,
			Description: d.Message,
			FilePath:    relPath(d.Filename, workdir),
			LineNumber:  model.Line(d.Location.Row),
			StartLine:   model.Line(d.Location.Row),
			StartColumn: model.Line(d.Location.Column),
			MoreInfoURL: d.URL,
		}
		if d.EndLocation != nil {
			is.EndLine = model.Line(d.EndLocation.Row)
			is.EndColumn = model.Line(d.EndLocation.Column)
		}
		if d.Fix != nil {
			is.FixSuggestion = d.Fix.Message
		}
		issues = append(issues, is)
	}
	return issues, nil
}

type banditReport struct {
	Results []struct {
		Filename     string `json:"filename"`
		TestID       string `json:"test_id"`
		TestName     string `json:"test_name"`
		IssueText    string `json:"issue_text"`
		Severity     string `json:"issue_severity"`
		Confidence   string `json:"issue_confidence"`
		LineNumber   int    `json:"line_number"`
		LineRange    []int  `json:"line_range"`
		ColOffset    *int   `json:"col_offset"`
		EndColOffset *int   `json:"end_col_offset"`
		MoreInfo     string `json:"more_info"`
		CWE          *struct {
			ID   int    `json:"id"`
			Link string `json:"link"`
		} `json:"issue_cwe"`
	} `json:"results"`
}

// ParseBandit converts `bandit -f json` output into Security issues. Bandit
// columns are zero-based; issues carry them one-based.
func ParseBandit(out []byte, workdir string) ([]model.Issue, error) {
	if len(strings.TrimSpace(string(out))) == 0 {
		return nil, nil
	}
	var report banditReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("sandbox: parse bandit output: %w", err)
	}

	issues := make([]model.Issue, 0, len(report.Results))
	for _, r := range report.Results {
		desc := r.IssueText
		if r.CWE != nil && r.CWE.ID > 0 {
			desc = fmt.Sprintf("%s (CWE-%d)", desc, r.CWE.ID)
		}

		is := model.Issue{
			Category:    model.CategorySecurity,
			Severity:    banditSeverity(r.Severity, r.Confidence),
			Tool:        "bandit",
			RuleID:      r.TestID,
			Title:       strings.TrimPrefix(r.TestID+": "+r.IssueText, ": "),
			Description: desc,
			FilePath:    relPath(r.Filename, workdir),
			LineNumber:  model.Line(r.LineNumber),
			Confidence:  strings.ToUpper(r.Confidence),
			MoreInfoURL: r.MoreInfo,
		}
		if n := len(r.LineRange); n > 0 {
			is.StartLine = model.Line(r.LineRange[0])
			if n > 1 {
				is.EndLine = model.Line(r.LineRange[n-1])
			}
		}
		if r.ColOffset != nil {
			is.StartColumn = model.Line(*r.ColOffset + 1)
		}
		if r.EndColOffset != nil {
			is.EndColumn = model.Line(*r.EndColOffset + 1)
		}
		issues = append(issues, is)
	}
	return issues, nil
}

func relPath(p, workdir string) string {
	p = strings.TrimPrefix(p, strings.TrimSuffix(workdir, "/")+"/")
	return strings.TrimPrefix(p, "./")
}
