// Command archonctl is a terminal client for the Archon API.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "archonctl",
		Usage:   "Analyze Python repositories from the terminal",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "Archon API base URL",
				EnvVars: []string{"ARCHON_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Session token, overriding the saved session",
				EnvVars: []string{"ARCHON_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			registerCmd(),
			loginCmd(),
			logoutCmd(),
			whoamiCmd(),
			connectCmd(),
			statusCmd(),
			disconnectCmd(),
			reposCmd(),
			validateCmd(),
			projectsCmd(),
			importCmd(),
			uploadCmd(),
			deleteCmd(),
			filesCmd(),
			catCmd(),
			analyzeCmd(),
			historyCmd(),
			reportCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
