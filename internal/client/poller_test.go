package client_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/archon/internal/client"
	"github.com/sakif/archon/internal/model"
)

// scriptedLister replays one response per call and repeats the last one.
type scriptedLister struct {
	mu      sync.Mutex
	script  [][]model.ProjectSummary
	calls   int
	active  atomic.Int32
	overlap atomic.Bool
	err     error
}

func (s *scriptedLister) ListProjects(_ context.Context) ([]model.ProjectSummary, error) {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i], nil
}

func (s *scriptedLister) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedLister) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func running() []model.ProjectSummary {
	return []model.ProjectSummary{{
		Project:        model.Project{ID: "p1"},
		LatestAnalysis: &model.Analysis{ID: "a1", Status: model.StatusRunning},
		InFlight:       true,
	}}
}

func done() []model.ProjectSummary {
	return []model.ProjectSummary{{
		Project:        model.Project{ID: "p1"},
		LatestAnalysis: &model.Analysis{ID: "a1", Status: model.StatusCompleted},
	}}
}

func runPoller(t *testing.T, p *client.Poller) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Error("poller did not stop")
		}
	})
	return cancel
}

func TestPoller_FinishedFiresOncePerTransition(t *testing.T) {
	lister := &scriptedLister{script: [][]model.ProjectSummary{running(), running(), done()}}
	var finished atomic.Int32
	var backgrounds []bool
	var mu sync.Mutex

	p := client.NewPoller(lister, client.PollerOptions{
		Interval: 5 * time.Millisecond,
		OnUpdate: func(_ []model.ProjectSummary, background bool) {
			mu.Lock()
			backgrounds = append(backgrounds, background)
			mu.Unlock()
		},
		OnFinished: func() { finished.Add(1) },
	})
	runPoller(t, p)

	require.Eventually(t, func() bool { return finished.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(1), finished.Load())
	assert.False(t, p.Active())
	assert.Equal(t, 3, lister.Calls(), "polling stops once nothing is in flight")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true, true}, backgrounds)
}

func TestPoller_IdleUntilTriggered(t *testing.T) {
	lister := &scriptedLister{script: [][]model.ProjectSummary{done(), running(), done()}}
	var finished atomic.Int32

	p := client.NewPoller(lister, client.PollerOptions{
		Interval:   5 * time.Millisecond,
		OnFinished: func() { finished.Add(1) },
	})
	runPoller(t, p)

	require.Eventually(t, func() bool { return lister.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, lister.Calls())
	assert.Zero(t, finished.Load(), "nothing was ever in flight")

	p.Trigger()
	require.Eventually(t, func() bool { return finished.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 3, lister.Calls())
}

func TestPoller_TriggerCatchesAnalysisThatEndedUnseen(t *testing.T) {
	lister := &scriptedLister{script: [][]model.ProjectSummary{done()}}
	finished := make(chan struct{}, 1)

	p := client.NewPoller(lister, client.PollerOptions{
		Interval:   5 * time.Millisecond,
		OnFinished: func() { finished <- struct{}{} },
	})
	p.Trigger()
	runPoller(t, p)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("finished signal not delivered")
	}
}

func TestPoller_NoOverlappingFetches(t *testing.T) {
	lister := &scriptedLister{script: [][]model.ProjectSummary{running()}}
	p := client.NewPoller(lister, client.PollerOptions{Interval: time.Millisecond})
	runPoller(t, p)

	for i := 0; i < 20; i++ {
		go p.Refresh(context.Background())
		p.Trigger()
	}
	require.Eventually(t, func() bool { return lister.Calls() > 25 }, time.Second, time.Millisecond)
	assert.False(t, lister.overlap.Load())
}

func TestPoller_ErrorsReported(t *testing.T) {
	lister := &scriptedLister{err: errors.New("boom")}
	errs := make(chan error, 1)

	p := client.NewPoller(lister, client.PollerOptions{
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	})
	p.Refresh(context.Background())

	select {
	case err := <-errs:
		assert.EqualError(t, err, "boom")
	default:
		t.Fatal("error not reported")
	}
	assert.False(t, p.Active())
}

func TestPoller_TriggerRetriesAfterFailedFetch(t *testing.T) {
	lister := &scriptedLister{script: [][]model.ProjectSummary{running()}}
	lister.setErr(errors.New("connection refused"))
	var errCount atomic.Int32

	p := client.NewPoller(lister, client.PollerOptions{
		Interval: 5 * time.Millisecond,
		OnError:  func(error) { errCount.Add(1) },
	})
	runPoller(t, p)

	// the foreground fetch fails, then the wake fetch fails too
	require.Eventually(t, func() bool { return errCount.Load() >= 1 }, time.Second, time.Millisecond)
	p.Trigger()
	require.Eventually(t, func() bool { return errCount.Load() >= 2 }, time.Second, time.Millisecond)

	lister.setErr(nil)
	require.Eventually(t, p.Active, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return lister.Calls() >= 2 }, time.Second, time.Millisecond,
		"polling continues while the analysis runs")
}

type blockingLister struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLister) ListProjects(ctx context.Context) ([]model.ProjectSummary, error) {
	b.entered <- struct{}{}
	<-b.release
	return done(), nil
}

func TestPoller_RefreshDroppedWhileFetching(t *testing.T) {
	lister := &blockingLister{entered: make(chan struct{}), release: make(chan struct{})}
	p := client.NewPoller(lister, client.PollerOptions{})

	first := make(chan bool)
	go func() { first <- p.Refresh(context.Background()) }()
	<-lister.entered

	assert.False(t, p.Refresh(context.Background()))

	close(lister.release)
	assert.True(t, <-first)
}
