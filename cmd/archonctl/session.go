package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sakif/archon/internal/client"
)

// sessionPath is where login stores the token, readable only by the user.
func sessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "archon", "session"), nil
}

func saveSession(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

// loadSession returns "" when nobody is logged in.
func loadSession(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// newClient builds a client for the selected server, signed in with --token
// or the saved session.
func newClient(c *cli.Context) (*client.Client, error) {
	token := c.String("token")
	if token == "" {
		path, err := sessionPath()
		if err != nil {
			return nil, err
		}
		if token, err = loadSession(path); err != nil {
			return nil, fmt.Errorf("reading session: %w", err)
		}
	}
	return client.New(c.String("server"), token, nil), nil
}

// requireArg returns the nth positional argument or a usage error.
func requireArg(c *cli.Context, n int, name string) (string, error) {
	if c.Args().Len() <= n || c.Args().Get(n) == "" {
		return "", fmt.Errorf("missing %s (usage: %s %s %s)", name, c.App.Name, c.Command.Name, c.Command.ArgsUsage)
	}
	return c.Args().Get(n), nil
}

// splitFullName parses "owner/name".
func splitFullName(s string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("expected owner/name, got %q", s)
	}
	return owner, name, nil
}
