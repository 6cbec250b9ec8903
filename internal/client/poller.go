package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakif/archon/internal/model"
)

// DefaultPollInterval is how often the project list is refreshed while an
// analysis is in flight.
const DefaultPollInterval = 3 * time.Second

// ProjectLister fetches the caller's projects. *Client satisfies it.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]model.ProjectSummary, error)
}

var _ ProjectLister = (*Client)(nil)

// PollerOptions configures a Poller. Every callback is optional and runs on
// the polling goroutine.
type PollerOptions struct {
	Interval time.Duration
	// OnUpdate receives every fetched list. background is true for the
	// periodic refreshes, which should not show a loading indicator.
	OnUpdate func(projects []model.ProjectSummary, background bool)
	// OnFinished fires once each time the last in-flight analysis ends.
	OnFinished func()
	OnError    func(err error)
}

// Poller re-fetches the project list every Interval while any project has
// an in-flight analysis, and goes idle when none do. Trigger wakes it up
// again after an analysis is started.
//
// Fetches never overlap: a fetch requested while another is running is
// dropped, and the running one's result stands.
type Poller struct {
	lister ProjectLister
	opts   PollerOptions

	mu       sync.Mutex // held for the duration of a fetch
	inFlight atomic.Bool
	armed    atomic.Bool
	wake     chan struct{}
}

func NewPoller(lister ProjectLister, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	return &Poller{
		lister: lister,
		opts:   opts,
		wake:   make(chan struct{}, 1),
	}
}

// Active reports whether the last fetch saw an in-flight analysis.
func (p *Poller) Active() bool {
	return p.inFlight.Load()
}

// Trigger tells the poller an analysis was just started. It resumes polling
// immediately, and the next fetch that finds nothing in flight fires
// OnFinished even if the analysis ended before it was ever observed.
func (p *Poller) Trigger() {
	p.armed.Store(true)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Refresh fetches once in the foreground, e.g. on a manual reload. It
// reports false when a fetch was already running.
func (p *Poller) Refresh(ctx context.Context) bool {
	return p.fetch(ctx, false)
}

// Run does a foreground fetch and then polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.fetch(ctx, false)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		// armed outlives a failed fetch, so a triggered poller keeps
		// retrying until one fetch lands.
		var tick <-chan time.Time
		if p.inFlight.Load() || p.armed.Load() {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			p.fetch(ctx, true)
		case <-p.wake:
			p.fetch(ctx, true)
			ticker.Reset(p.opts.Interval)
		}
	}
}

func (p *Poller) fetch(ctx context.Context, background bool) bool {
	if !p.mu.TryLock() {
		return false
	}
	defer p.mu.Unlock()

	projects, err := p.lister.ListProjects(ctx)
	if err != nil {
		if ctx.Err() == nil && p.opts.OnError != nil {
			p.opts.OnError(err)
		}
		return true
	}

	now := anyInFlight(projects)
	was := p.inFlight.Swap(now)
	if p.armed.Swap(false) {
		was = true
	}

	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(projects, background)
	}
	if was && !now && p.opts.OnFinished != nil {
		p.opts.OnFinished()
	}
	return true
}

func anyInFlight(projects []model.ProjectSummary) bool {
	for _, p := range projects {
		if p.InFlight {
			return true
		}
		if p.LatestAnalysis != nil && p.LatestAnalysis.Status.InFlight() {
			return true
		}
	}
	return false
}
