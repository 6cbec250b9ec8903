package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/sakif/archon/internal/client"
	"github.com/sakif/archon/internal/model"
)

func analyzeCmd() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Start an analysis of a project",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for the analysis to finish"},
			&cli.DurationFlag{Name: "timeout", Value: 15 * time.Minute, Usage: "Give up waiting after this long"},
			&cli.DurationFlag{Name: "interval", Value: client.DefaultPollInterval, Usage: "Polling interval while waiting"},
		},
		Action: runAnalyzeCmd,
	}
}

func runAnalyzeCmd(c *cli.Context) error {
	id, err := requireArg(c, 0, "project id")
	if err != nil {
		return err
	}
	api, err := newClient(c)
	if err != nil {
		return err
	}

	a, created, err := api.StartAnalysis(c.Context, id)
	if err != nil {
		return err
	}
	if created {
		color.Green("Started analysis %s", a.ID)
	} else {
		color.Yellow("Analysis %s already %s", a.ID, a.Status)
	}
	if !c.Bool("wait") {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	if err := waitForAnalyses(ctx, api, id, c.Duration("interval")); err != nil {
		return err
	}

	history, err := api.ListAnalyses(c.Context, id)
	if err != nil {
		return err
	}
	for _, h := range history {
		if h.ID == a.ID {
			return printOutcome(&h, id)
		}
	}
	return fmt.Errorf("analysis %s no longer listed", a.ID)
}

// waitForAnalyses drives a spinner from the project poller until nothing is
// in flight.
func waitForAnalyses(ctx context.Context, api *client.Client, projectID string, interval time.Duration) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription("Analysis pending"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	defer func() {
		_ = bar.Finish()
		_ = bar.Clear()
	}()

	finished := make(chan struct{})
	var once sync.Once

	poller := client.NewPoller(api, client.PollerOptions{
		Interval: interval,
		OnUpdate: func(projects []model.ProjectSummary, _ bool) {
			for _, p := range projects {
				if p.ID == projectID && p.LatestAnalysis != nil {
					bar.Describe("Analysis " + string(p.LatestAnalysis.Status))
				}
			}
		},
		OnFinished: func() { once.Do(func() { close(finished) }) },
		OnError: func(err error) {
			bar.Describe("Retrying: " + err.Error())
		},
	})
	poller.Trigger()

	pollCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = poller.Run(pollCtx) }()

	spin := time.NewTicker(100 * time.Millisecond)
	defer spin.Stop()
	for {
		select {
		case <-finished:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for analysis: %w", ctx.Err())
		case <-spin.C:
			_ = bar.Add(1)
		}
	}
}

func printOutcome(a *model.Analysis, projectID string) error {
	switch a.Status {
	case model.StatusCompleted:
		overall := 0.0
		if a.Scores != nil {
			overall = a.Scores.Overall
		}
		color.Green("Analysis completed: score %s, %d issues", formatScore(overall), a.IssueCount)
		fmt.Printf("Run `archonctl report %s` for details.\n", projectID)
		return nil
	case model.StatusFailed:
		return fmt.Errorf("analysis failed: %s", a.FailureReason)
	default:
		return fmt.Errorf("analysis still %s", a.Status)
	}
}

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List past analyses of a project",
		ArgsUsage: "<project-id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "project id")
			if err != nil {
				return err
			}
			api, err := newClient(c)
			if err != nil {
				return err
			}
			list, err := api.ListAnalyses(c.Context, id)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				color.Yellow("No analyses yet")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for i := range list {
				a := &list[i]
				score := "-"
				if a.Scores != nil {
					score = formatScore(a.Scores.Overall)
				}
				rows = append(rows, []string{
					a.ID,
					analysisLabel(a),
					score,
					fmt.Sprint(a.IssueCount),
					a.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			renderTable(os.Stdout, []string{"ID", "Status", "Score", "Issues", "Created"}, rows)
			return nil
		},
	}
}
