// Command server runs the Archon API.
//
// Configuration comes from a TOML, YAML or JSON file (--config, or
// archon.toml in the working directory or ./config) with secrets taken from
// the environment. See internal/config for the variables.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sakif/archon/internal/config"
	"github.com/sakif/archon/internal/server"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "archon-server",
		Usage:   "Python repository analysis API",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (TOML, YAML or JSON)",
				EnvVars: []string{"ARCHON_CONFIG"},
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port, overriding the config file and PORT",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "archon-server:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))

	for _, dir := range []string{filepath.Dir(cfg.Database.Path), cfg.Upload.BlobDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	// Start blocks until SIGINT or SIGTERM.
	return srv.Start()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
