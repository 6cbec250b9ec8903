// Package sandbox runs ruff and bandit over a snapshot inside pre-warmed,
// network-less Docker containers.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/archon/internal/analyzer"
	"github.com/sakif/archon/internal/model"
)

var _ analyzer.Checker = (*Checker)(nil)

// Checker implements analyzer.Checker with the Python linters.
type Checker struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New connects to the Docker daemon from the environment, makes sure the
// image is present and starts warming containers.
func New(cfg Config, logger *slog.Logger) (*Checker, error) {
	if cfg.Workdir == "" {
		cfg.Workdir = DefaultConfig().Workdir
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := ensureImage(ctx, cli, cfg.Image, logger); err != nil {
		cli.Close()
		return nil, err
	}

	c := &Checker{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
	c.pool.Start()
	return c, nil
}

func ensureImage(ctx context.Context, cli *client.Client, ref string, logger *slog.Logger) error {
	if _, err := cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	logger.Info("pulling sandbox image", slog.String("image", ref))
	rc, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("sandbox: pull %s: %w", ref, err)
	}
	defer rc.Close()
	// the pull only finishes once the progress stream is drained
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("sandbox: pull %s: %w", ref, err)
	}
	return nil
}

// Close stops the pool and the Docker client.
func (c *Checker) Close() error {
	c.pool.Stop()
	return c.cli.Close()
}

func (c *Checker) Name() string { return "sandbox" }

// Check copies the snapshot's Python files into a fresh container and runs
// both linters there. A failing linter is logged and skipped as long as the
// other one succeeded.
func (c *Checker) Check(ctx context.Context, snap *analyzer.Snapshot) ([]model.Issue, error) {
	files := snap.PythonFiles()
	if len(files) == 0 {
		return nil, nil
	}

	archive, err := tarball(files)
	if err != nil {
		return nil, err
	}

	id, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(id)

	wd := c.config.Workdir
	unpack := []string{"sh", "-c", fmt.Sprintf("mkdir -p %s && tar -x -C %s", wd, wd)}
	if _, err := c.exec(ctx, id, unpack, archive, 0); err != nil {
		return nil, fmt.Errorf("sandbox: copy snapshot: %w", err)
	}

	var (
		issues []model.Issue
		errs   []error
	)
	for _, tool := range []struct {
		name  string
		cmd   []string
		parse func([]byte, string) ([]model.Issue, error)
	}{
		{"ruff", ruffCommand(), ParseRuff},
		{"bandit", banditCommand(), ParseBandit},
	} {
		out, err := c.exec(ctx, id, tool.cmd, nil, 0, 1)
		if err == nil {
			var found []model.Issue
			found, err = tool.parse(out, wd)
			issues = append(issues, found...)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("sandbox tool failed", slog.String("tool", tool.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", tool.name, err))
		}
	}
	if len(errs) == 2 {
		return nil, fmt.Errorf("sandbox: %w", errors.Join(errs...))
	}
	return issues, nil
}

func ruffCommand() []string {
	return []string{
		"ruff", "check", ".",
		"--output-format=json",
		"--no-cache",
		"--force-exclude",
		"--select=ALL",
		"--ignore=D100,D101,D102,D103,D104,D105,D106,D107,D203,D211,D212,D213,ANN,COM812,COM819,ISC001,ISC002,Q000,Q001,Q002,Q003",
	}
}

func banditCommand() []string {
	return []string{
		"bandit", "-r", ".",
		"-f", "json",
		"-q",
		"--severity-level=low",
		"--confidence-level=low",
		"-x", "./venv,./.venv,./__pycache__,./node_modules",
	}
}

// exec runs cmd in the container's workdir and returns its stdout. An exit
// code outside okCodes is an error carrying the tail of stderr.
func (c *Checker) exec(ctx context.Context, id string, cmd []string, stdin io.Reader, okCodes ...int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	created, err := c.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdirFor(cmd, c.config.Workdir),
		Cmd:          cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	if stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, stdin)
			_ = attach.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", cmd[0], ctx.Err())
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}
	if !slices.Contains(okCodes, inspect.ExitCode) {
		return nil, fmt.Errorf("%s exited with %d: %s", cmd[0], inspect.ExitCode, tail(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

// workdirFor runs the unpack step from /tmp since the workdir does not exist
// yet.
func workdirFor(cmd []string, wd string) string {
	if cmd[0] == "sh" {
		return "/tmp"
	}
	return wd
}

func tarball(files []analyzer.SourceFile) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		hdr := &tar.Header{
			Name:     f.Path,
			Mode:     0o644,
			Size:     int64(len(f.Content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("sandbox: tar %s: %w", f.Path, err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			return nil, fmt.Errorf("sandbox: tar %s: %w", f.Path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("sandbox: tar: %w", err)
	}
	return &buf, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
