package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/sakif/archon/internal/model"
)

func branchFlag() cli.Flag {
	return &cli.StringFlag{Name: "branch", Aliases: []string{"b"}, Usage: "Branch (default: the repository's default branch)"}
}

func filesCmd() *cli.Command {
	return &cli.Command{
		Name:      "files",
		Usage:     "Print a project's file tree",
		ArgsUsage: "<project-id>",
		Flags:     []cli.Flag{branchFlag()},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "project id")
			if err != nil {
				return err
			}
			api, err := newClient(c)
			if err != nil {
				return err
			}
			tree, err := api.ListFiles(c.Context, id, c.String("branch"))
			if err != nil {
				return err
			}
			if tree.Branch != "" {
				color.New(color.Bold).Printf("branch %s\n", tree.Branch)
			}
			printTree(os.Stdout, tree.Tree, 0)
			if tree.Truncated {
				color.Yellow("(listing truncated by GitHub)")
			}
			return nil
		},
	}
}

func catCmd() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Print one file of a project",
		ArgsUsage: "<project-id> <path>",
		Flags:     []cli.Flag{branchFlag()},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "project id")
			if err != nil {
				return err
			}
			path, err := requireArg(c, 1, "path")
			if err != nil {
				return err
			}
			api, err := newClient(c)
			if err != nil {
				return err
			}
			fc, err := api.GetFileContent(c.Context, id, path, c.String("branch"))
			if err != nil {
				return err
			}
			_, err = io.WriteString(os.Stdout, fc.Content)
			return err
		},
	}
}

// printTree writes nodes indented two spaces per level, folders with a
// trailing slash.
func printTree(w io.Writer, nodes []*model.RepositoryNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		if n.Type == model.NodeFolder {
			fmt.Fprintf(w, "%s%s/\n", indent, n.Name)
			printTree(w, n.Children, depth+1)
			continue
		}
		fmt.Fprintf(w, "%s%s\n", indent, n.Name)
	}
}
