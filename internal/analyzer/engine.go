package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/sakif/archon/internal/model"
)

// ErrNoCheckerSucceeded is returned when every registered checker failed.
var ErrNoCheckerSucceeded = errors.New("analyzer: no checker succeeded")

// Checker produces issues for a snapshot. Implementations must be safe for
// concurrent use; the engine runs them in parallel.
type Checker interface {
	Name() string
	Check(ctx context.Context, snap *Snapshot) ([]model.Issue, error)
}

// Result is the payload of a successful analysis.
type Result struct {
	Scores model.Scores
	Issues []model.Issue
}

// Penalty per issue, subtracted from its category's score.
var severityPenalty = map[model.Severity]float64{
	model.SeverityCritical: 20,
	model.SeverityHigh:     10,
	model.SeverityMedium:   5,
	model.SeverityLow:      1,
}

// Weight of each category in the overall score. Sums to 1.
var categoryWeight = map[model.Category]float64{
	model.CategoryStructure:    0.25,
	model.CategoryQuality:      0.30,
	model.CategorySecurity:     0.30,
	model.CategoryDependencies: 0.15,
}

// Engine runs checkers over snapshots and scores their findings.
type Engine struct {
	checkers      []Checker
	maxGoroutines int
	logger        *slog.Logger
}

// NewEngine creates an engine. maxGoroutines bounds how many checkers run at
// once; values below 1 mean one.
func NewEngine(logger *slog.Logger, maxGoroutines int, checkers ...Checker) *Engine {
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}
	return &Engine{
		checkers:      checkers,
		maxGoroutines: maxGoroutines,
		logger:        logger,
	}
}

// Checkers returns the names of the registered checkers.
func (e *Engine) Checkers() []string {
	names := make([]string, len(e.checkers))
	for i, c := range e.checkers {
		names[i] = c.Name()
	}
	return names
}

// Analyze runs every checker over snap and returns the scored result.
// A snapshot without code files scores 100 everywhere without running any
// checker.
func (e *Engine) Analyze(ctx context.Context, snap *Snapshot) (*Result, error) {
	if snap == nil || !snap.HasCode() {
		e.logger.Info("snapshot has no code files, returning perfect scores")
		return &Result{Scores: PerfectScores(), Issues: []model.Issue{}}, nil
	}
	if len(e.checkers) == 0 {
		return nil, fmt.Errorf("analyzer: analyze: %w", ErrNoCheckerSucceeded)
	}

	var (
		mu        sync.Mutex
		issues    []model.Issue
		succeeded int
		failures  []error
	)

	p := pool.New().WithMaxGoroutines(e.maxGoroutines).WithContext(ctx)
	for _, c := range e.checkers {
		p.Go(func(ctx context.Context) error {
			start := time.Now()
			found, err := c.Check(ctx, snap)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("checker failed",
					slog.String("checker", c.Name()),
					slog.String("error", err.Error()),
				)
				failures = append(failures, fmt.Errorf("%s: %w", c.Name(), err))
				return nil
			}
			e.logger.Debug("checker finished",
				slog.String("checker", c.Name()),
				slog.Int("issues", len(found)),
				slog.Duration("took", time.Since(start)),
			)
			issues = append(issues, found...)
			succeeded++
			return nil
		})
	}
	_ = p.Wait() // failures are collected above

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analyzer: analyze: %w", err)
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("analyzer: analyze: %w: %w", ErrNoCheckerSucceeded, errors.Join(failures...))
	}

	valid := issues[:0]
	for _, is := range issues {
		if err := is.Validate(); err != nil {
			e.logger.Warn("dropping invalid issue", slog.String("tool", is.Tool), slog.String("error", err.Error()))
			continue
		}
		valid = append(valid, is)
	}
	if valid == nil {
		valid = []model.Issue{}
	}
	model.SortIssues(valid)

	return &Result{Scores: Score(valid), Issues: valid}, nil
}

// PerfectScores returns 100 in every category.
func PerfectScores() model.Scores {
	return model.Scores{Structure: 100, Quality: 100, Security: 100, Dependencies: 100, Overall: 100}
}

// Score folds issues into category scores and the weighted overall score.
// Each category starts at 100 and loses its issues' penalties, floored at 0.
func Score(issues []model.Issue) model.Scores {
	cat := map[model.Category]float64{}
	for _, c := range model.Categories {
		cat[c] = 100
	}
	for _, is := range issues {
		if _, ok := cat[is.Category]; ok {
			cat[is.Category] -= severityPenalty[is.Severity]
		}
	}

	var overall float64
	for c, v := range cat {
		v = math.Max(0, v)
		cat[c] = v
		overall += v * categoryWeight[c]
	}

	return model.Scores{
		Structure:    cat[model.CategoryStructure],
		Quality:      cat[model.CategoryQuality],
		Security:     cat[model.CategorySecurity],
		Dependencies: cat[model.CategoryDependencies],
		Overall:      math.Round(overall*10) / 10,
	}
}
