package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Pool keeps a number of idle, network-less linter containers running so an
// analysis does not pay container start-up time. Every container is used for
// exactly one snapshot and then removed; the manager replaces it.
type Pool struct {
	cli        *client.Client
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewPool creates a pool. Call Start to begin warming containers.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	size := cfg.PoolSize
	if size < 1 {
		size = 1
	}
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, size),
		done:       make(chan struct{}),
	}
}

// Start launches the manager goroutine. It is safe to call more than once.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting sandbox pool",
			slog.String("image", p.config.Image),
			slog.Int("size", cap(p.containers)),
		)
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop ends the manager and removes every idle container.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping sandbox pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.remove(id)
			default:
				return
			}
		}
	})
}

// Acquire hands out a ready container. The caller owns it and must Release
// it. Acquire blocks until a container is ready or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("sandbox: acquire: pool stopped")
	case <-ctx.Done():
		return "", fmt.Errorf("sandbox: acquire: %w", ctx.Err())
	}
}

// Release destroys a container handed out by Acquire.
func (p *Pool) Release(id string) {
	p.remove(id)
}

func (p *Pool) manager() {
	defer p.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-p.done:
			return
		default:
		}

		if len(p.containers) == cap(p.containers) {
			p.sleep(100 * time.Millisecond)
			continue
		}

		id, err := p.create()
		if err != nil {
			p.logger.Error("failed to warm sandbox container", slog.String("error", err.Error()))
			p.sleep(backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		select {
		case p.containers <- id:
		case <-p.done:
			p.remove(id)
			return
		}
	}
}

// sleep waits for d or until the pool stops.
func (p *Pool) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.done:
	}
}

// create starts an idle container. The root filesystem is read-only; the
// snapshot is unpacked into a tmpfs at /tmp.
func (p *Pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,exec,size=256m"},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.config.Image,
		Cmd:        []string{"sleep", "infinity"},
		User:       "nobody",
		Env:        []string{"HOME=/tmp", "PYTHONDONTWRITEBYTECODE=1"},
		WorkingDir: "/tmp",
		Labels:     map[string]string{"archon.role": "sandbox"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}
	return resp.ID, nil
}

func (p *Pool) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove sandbox container",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}
