package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/sakif/archon/internal/client"
	"github.com/sakif/archon/internal/model"
)

func reposCmd() *cli.Command {
	return &cli.Command{
		Name:  "repos",
		Usage: "List repositories of the connected GitHub account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Filter by name or description"},
		},
		Action: func(c *cli.Context) error {
			api, err := newClient(c)
			if err != nil {
				return err
			}
			repos, err := api.ListRepositories(c.Context, c.String("query"))
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				color.Yellow("No repositories found")
				return nil
			}
			rows := make([][]string, 0, len(repos))
			for _, r := range repos {
				vis := "public"
				if r.Private {
					vis = "private"
				}
				rows = append(rows, []string{r.FullName, r.Language, fmt.Sprint(r.Stars), vis, truncate(r.Description, 50)})
			}
			renderTable(os.Stdout, []string{"Repository", "Language", "Stars", "Visibility", "Description"}, rows)
			return nil
		},
	}
}

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check whether a repository looks like a Python project",
		ArgsUsage: "<owner/name>",
		Action: func(c *cli.Context) error {
			arg, err := requireArg(c, 0, "repository")
			if err != nil {
				return err
			}
			owner, name, err := splitFullName(arg)
			if err != nil {
				return err
			}
			api, err := newClient(c)
			if err != nil {
				return err
			}
			s, err := api.ValidateRepository(c.Context, owner, name)
			if err != nil {
				return err
			}
			if s.IsSuitable {
				color.Green("Suitable (confidence %.2f)", s.ConfidenceScore)
			} else {
				color.Yellow("Not suitable (confidence %.2f)", s.ConfidenceScore)
			}
			for _, w := range s.Warnings {
				fmt.Println("  - " + w)
			}
			return nil
		},
	}
}

func projectsCmd() *cli.Command {
	return &cli.Command{
		Name:    "projects",
		Aliases: []string{"ls"},
		Usage:   "List your projects and their latest analysis",
		Action: func(c *cli.Context) error {
			api, err := newClient(c)
			if err != nil {
				return err
			}
			projects, err := api.ListProjects(c.Context)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				color.Yellow("No projects yet. Use `import` or `upload`.")
				return nil
			}
			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{p.ID, p.Name, string(p.Source), analysisLabel(p.LatestAnalysis)})
			}
			renderTable(os.Stdout, []string{"ID", "Name", "Source", "Latest analysis"}, rows)
			return nil
		},
	}
}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Register a GitHub repository as a project",
		ArgsUsage: "<owner/name>",
		Action: func(c *cli.Context) error {
			arg, err := requireArg(c, 0, "repository")
			if err != nil {
				return err
			}
			owner, name, err := splitFullName(arg)
			if err != nil {
				return err
			}
			api, err := newClient(c)
			if err != nil {
				return err
			}
			p, err := api.ImportRepository(c.Context, owner, name)
			if err != nil {
				return err
			}
			color.Green("Created project %s (%s)", p.ID, p.Name)
			return nil
		},
	}
}

func uploadCmd() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a local directory as a project",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Project name (default: directory name)"},
		},
		Action: func(c *cli.Context) error {
			dir, err := requireArg(c, 0, "directory")
			if err != nil {
				return err
			}
			files, skipped, err := collectUpload(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no uploadable files under %s", dir)
			}
			name := c.String("name")
			if name == "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				name = filepath.Base(abs)
			}

			api, err := newClient(c)
			if err != nil {
				return err
			}
			p, err := api.Upload(c.Context, name, files)
			if err != nil {
				return err
			}
			color.Green("Created project %s (%s) from %d files", p.ID, p.Name, len(files))
			if skipped > 0 {
				color.Yellow("Skipped %d files of unsupported type", skipped)
			}
			return nil
		},
	}
}

func deleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a project with its analyses",
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
			if err := api.DeleteProject(c.Context, id); err != nil {
				return err
			}
			color.Green("Deleted project %s", id)
			return nil
		},
	}
}

// skipDirs are never uploaded.
var skipDirs = map[string]bool{
	".git": true, ".hg": true, "__pycache__": true, ".venv": true, "venv": true,
	"node_modules": true, ".mypy_cache": true, ".pytest_cache": true, ".tox": true,
	".ruff_cache": true,
}

// collectUpload reads every file under root the server accepts, keyed by
// its slash-separated path relative to root. Other files are counted as
// skipped.
func collectUpload(root string) (files []client.UploadFile, skipped int, err error) {
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !model.UploadAllowed(rel) {
			skipped++
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, client.UploadFile{Path: rel, Content: content})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", strings.TrimSuffix(root, "/"), err)
	}
	return files, skipped, nil
}
