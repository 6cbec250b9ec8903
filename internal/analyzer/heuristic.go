package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/sakif/archon/internal/model"
)

const heuristicTool = "archon"

// Thresholds used by HeuristicChecker.
const (
	MaxFileLines     = 500
	MaxFunctionLines = 50
	MaxNestingDepth  = 4
	MaxLineLength    = 120
)

var (
	reDef           = regexp.MustCompile(`^(\s*)(async\s+)?def\s+(\w+)`)
	reBlock         = regexp.MustCompile(`^\s*(if|elif|else|for|while|with|try|except|finally|async\s+for|async\s+with)\b`)
	reBareExcept    = regexp.MustCompile(`^\s*except\s*:`)
	rePrint         = regexp.MustCompile(`(^|[^\w.])print\(`)
	reMarker        = regexp.MustCompile(`#.*\b(TODO|FIXME)\b`)
	reWildcard      = regexp.MustCompile(`^\s*from\s+[\w.]+\s+import\s+\*`)
	reEval          = regexp.MustCompile(`(^|[^\w.])(eval|exec)\(`)
	rePickle        = regexp.MustCompile(`\b(c?pickle)\.loads?\(`)
	reShellTrue     = regexp.MustCompile(`\bsubprocess\.\w+\(.*shell\s*=\s*True`)
	reYAMLLoad      = regexp.MustCompile(`\byaml\.load\(`)
	reSecret        = regexp.MustCompile(`(?i)\b\w*(password|passwd|secret|api_?key|access_?key|auth_?token|private_?key)\w*\s*=\s*["'][^"'\s]{4,}["']`)
	reMainGuard     = regexp.MustCompile(`^if\s+__name__\s*==\s*["']__main__["']`)
	reRequirement   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(\[[^\]]*\])?`)
	manifestFiles   = []string{"requirements.txt", "pyproject.toml", "setup.py", "setup.cfg", "Pipfile"}
	dependencyLocks = []string{"poetry.lock", "Pipfile.lock", "uv.lock", "pdm.lock"}
)

// HeuristicChecker finds issues in all four categories with line-level
// pattern matching. It needs nothing beyond the snapshot itself.
type HeuristicChecker struct{}

// NewHeuristicChecker returns the built-in checker.
func NewHeuristicChecker() *HeuristicChecker { return &HeuristicChecker{} }

func (h *HeuristicChecker) Name() string { return "heuristic" }

// Check scans every Python file plus the dependency manifests.
func (h *HeuristicChecker) Check(ctx context.Context, snap *Snapshot) ([]model.Issue, error) {
	var issues []model.Issue

	py := snap.PythonFiles()
	for _, f := range py {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		issues = append(issues, checkPythonFile(f)...)
	}
	issues = append(issues, checkPackages(snap, py)...)
	issues = append(issues, checkDependencies(snap, len(py) > 0)...)

	return issues, nil
}

func newIssue(cat model.Category, sev model.Severity, rule, title, desc, file string, line int) model.Issue {
	return model.Issue{
		Category:    cat,
		Severity:    sev,
		Tool:        heuristicTool,
		RuleID:      rule,
		Title:       title,
		Description: desc,
		FilePath:    file,
		LineNumber:  model.Line(line),
		StartLine:   model.Line(line),
	}
}

// openFunc tracks a def while its body is being scanned.
type openFunc struct {
	name    string
	indent  int
	line    int
	last    int
	flagged bool
}

func checkPythonFile(f SourceFile) []model.Issue {
	var (
		issues []model.Issue
		stack  []*openFunc
		lineNo int
	)
	script := isScript(f)

	closeFunc := func(fn *openFunc) {
		if n := fn.last - fn.line + 1; n > MaxFunctionLines {
			issues = append(issues, newIssue(model.CategoryStructure, model.SeverityMedium, "STR002",
				fmt.Sprintf("Function %s is too long", fn.name),
				fmt.Sprintf("%s spans %d lines; split it below %d.", fn.name, n, MaxFunctionLines),
				f.Path, fn.line))
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(f.Content))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		indent := indentWidth(raw)
		comment := strings.HasPrefix(trimmed, "#")

		if !comment {
			for len(stack) > 0 && indent <= stack[len(stack)-1].indent {
				closeFunc(stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			for _, fn := range stack {
				fn.last = lineNo
			}
		}

		if len(raw) > MaxLineLength {
			issues = append(issues, newIssue(model.CategoryQuality, model.SeverityLow, "QUA001",
				"Line too long",
				fmt.Sprintf("Line is %d characters; the limit is %d.", len(raw), MaxLineLength),
				f.Path, lineNo))
		}
		if m := reMarker.FindStringSubmatch(raw); m != nil {
			issues = append(issues, newIssue(model.CategoryQuality, model.SeverityLow, "QUA004",
				m[1]+" marker", strings.TrimSpace(raw[strings.Index(raw, "#")+1:]), f.Path, lineNo))
		}
		if comment {
			continue
		}
		code := stripInlineComment(raw)

		if m := reDef.FindStringSubmatch(code); m != nil {
			stack = append(stack, &openFunc{name: m[3], indent: indent, line: lineNo, last: lineNo})
			continue
		}

		if reBlock.MatchString(code) && len(stack) > 0 {
			fn := stack[len(stack)-1]
			depth := (indent - fn.indent) / 4
			if depth > MaxNestingDepth && !fn.flagged {
				fn.flagged = true
				issues = append(issues, newIssue(model.CategoryStructure, model.SeverityMedium, "STR003",
					"Deeply nested block",
					fmt.Sprintf("%s nests blocks %d levels deep; the limit is %d.", fn.name, depth, MaxNestingDepth),
					f.Path, lineNo))
			}
		}

		issues = append(issues, checkCodeLine(f.Path, code, lineNo, script)...)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		closeFunc(stack[i])
	}

	if lineNo > MaxFileLines {
		issues = append(issues, newIssue(model.CategoryStructure, model.SeverityMedium, "STR001",
			"File is too long",
			fmt.Sprintf("%d lines; consider splitting modules over %d lines.", lineNo, MaxFileLines),
			f.Path, 0))
	}
	return issues
}

func checkCodeLine(file, code string, lineNo int, script bool) []model.Issue {
	var issues []model.Issue
	add := func(cat model.Category, sev model.Severity, rule, title, desc string) {
		issues = append(issues, newIssue(cat, sev, rule, title, desc, file, lineNo))
	}

	if reBareExcept.MatchString(code) {
		add(model.CategoryQuality, model.SeverityMedium, "QUA002", "Bare except",
			"A bare except also catches SystemExit and KeyboardInterrupt; name the exception.")
	}
	if !script && rePrint.MatchString(code) {
		add(model.CategoryQuality, model.SeverityLow, "QUA003", "print call in library module",
			"Use the logging module instead of print outside scripts.")
	}
	if reWildcard.MatchString(code) {
		add(model.CategoryQuality, model.SeverityMedium, "QUA005", "Wildcard import",
			"Wildcard imports hide where names come from.")
	}

	if reEval.MatchString(code) {
		add(model.CategorySecurity, model.SeverityHigh, "SEC001", "Use of eval or exec",
			"Evaluating dynamic code can execute attacker-controlled input.")
	}
	if rePickle.MatchString(code) {
		add(model.CategorySecurity, model.SeverityHigh, "SEC002", "Unpickling data",
			"pickle can execute arbitrary code while loading untrusted data.")
	}
	if reShellTrue.MatchString(code) {
		add(model.CategorySecurity, model.SeverityHigh, "SEC003", "subprocess with shell=True",
			"Passing a command through the shell allows injection; pass an argument list.")
	}
	if reYAMLLoad.MatchString(code) && !strings.Contains(code, "Loader") {
		add(model.CategorySecurity, model.SeverityMedium, "SEC004", "yaml.load without Loader",
			"Use yaml.safe_load or pass an explicit safe Loader.")
	}
	if reSecret.MatchString(code) {
		add(model.CategorySecurity, model.SeverityCritical, "SEC005", "Hard-coded secret",
			"Credentials in source end up in version control; read them from the environment.")
	}
	return issues
}

// checkPackages flags directories with Python modules but no __init__.py.
func checkPackages(snap *Snapshot, py []SourceFile) []model.Issue {
	dirs := map[string]bool{}
	for _, f := range py {
		if d := path.Dir(f.Path); d != "." {
			dirs[d] = true
		}
	}

	var missing []string
	for d := range dirs {
		if _, ok := snap.Lookup(path.Join(d, "__init__.py")); !ok {
			missing = append(missing, d)
		}
	}
	sort.Strings(missing)

	issues := make([]model.Issue, 0, len(missing))
	for _, d := range missing {
		issues = append(issues, newIssue(model.CategoryStructure, model.SeverityLow, "STR004",
			"Package without __init__.py",
			fmt.Sprintf("%s holds Python modules but is not a regular package.", d),
			d, 0))
	}
	return issues
}

func checkDependencies(snap *Snapshot, hasPython bool) []model.Issue {
	var issues []model.Issue

	present := map[string]bool{}
	for _, f := range snap.Files {
		present[f.Path] = true
	}

	anyManifest := false
	for _, m := range manifestFiles {
		anyManifest = anyManifest || present[m]
	}
	if hasPython && !anyManifest {
		issues = append(issues, newIssue(model.CategoryDependencies, model.SeverityHigh, "DEP002",
			"No dependency manifest",
			"Add requirements.txt or pyproject.toml so installs are reproducible.",
			"", 0))
	}

	if present["requirements.txt"] && present["pyproject.toml"] {
		locked := false
		for _, l := range dependencyLocks {
			locked = locked || present[l]
		}
		if !locked {
			issues = append(issues, newIssue(model.CategoryDependencies, model.SeverityLow, "DEP003",
				"Competing manifests without a lock file",
				"requirements.txt and pyproject.toml can drift; keep one source or commit a lock file.",
				"pyproject.toml", 0))
		}
	}

	for _, f := range snap.Files {
		base := path.Base(f.Path)
		if !strings.HasPrefix(base, "requirements") || path.Ext(base) != ".txt" {
			continue
		}
		issues = append(issues, checkRequirements(f)...)
	}
	return issues
}

func checkRequirements(f SourceFile) []model.Issue {
	var issues []model.Issue
	lineNo := 0
	sc := bufio.NewScanner(bytes.NewReader(f.Content))
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(stripInlineComment(sc.Text()))
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		name := reRequirement.FindString(line)
		if name == "" || strings.Contains(line, "://") {
			continue
		}
		if strings.Contains(line, "==") {
			continue
		}
		issues = append(issues, newIssue(model.CategoryDependencies, model.SeverityMedium, "DEP001",
			fmt.Sprintf("Unpinned requirement %s", name),
			"Pin an exact version with == so every install resolves the same release.",
			f.Path, lineNo))
	}
	return issues
}

// isScript reports whether print output is expected from the file.
func isScript(f SourceFile) bool {
	base := path.Base(f.Path)
	if base == "__main__.py" || base == "main.py" || base == "manage.py" || base == "setup.py" {
		return true
	}
	if strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") {
		return true
	}
	for _, dir := range strings.Split(path.Dir(f.Path), "/") {
		if dir == "scripts" || dir == "bin" || dir == "examples" || dir == "tests" {
			return true
		}
	}
	sc := bufio.NewScanner(bytes.NewReader(f.Content))
	for sc.Scan() {
		if reMainGuard.MatchString(sc.Text()) {
			return true
		}
	}
	return false
}

func indentWidth(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// stripInlineComment drops a trailing # comment that is not inside a string.
func stripInlineComment(s string) string {
	var quote rune
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return s[:i]
		}
	}
	return s
}
