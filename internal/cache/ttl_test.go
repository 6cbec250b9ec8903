package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrRefresh_CachesWithinTTL(t *testing.T) {
	c := New[string, string]()
	calls := 0
	refresh := func(context.Context) (string, error) {
		calls++
		return "token", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrRefresh(context.Background(), "u1", time.Minute, refresh)
		require.NoError(t, err)
		assert.Equal(t, "token", v)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrRefresh_Expires(t *testing.T) {
	c := New[string, int]()
	now := time.Now()
	c.now = func() time.Time { return now }

	n := 0
	refresh := func(context.Context) (int, error) { n++; return n, nil }

	v, _ := c.GetOrRefresh(context.Background(), "k", time.Minute, refresh)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	v, _ = c.GetOrRefresh(context.Background(), "k", time.Minute, refresh)
	assert.Equal(t, 2, v)
}

func TestGetOrRefresh_ErrorsNotCached(t *testing.T) {
	c := New[string, string]()
	fail := true
	refresh := func(context.Context) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "ok", nil
	}

	_, err := c.GetOrRefresh(context.Background(), "k", time.Minute, refresh)
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	fail = false
	v, err := c.GetOrRefresh(context.Background(), "k", time.Minute, refresh)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestInvalidate(t *testing.T) {
	c := New[string, string]()
	val := "first"
	refresh := func(context.Context) (string, error) { return val, nil }

	_, _ = c.GetOrRefresh(context.Background(), "k", time.Hour, refresh)
	c.Invalidate("k")
	val = "second"

	v, err := c.GetOrRefresh(context.Background(), "k", time.Hour, refresh)
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestInvalidate_DuringRefreshDoesNotRepopulate(t *testing.T) {
	c := New[string, string]()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetOrRefresh(context.Background(), "k", time.Hour, func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()

	<-started
	c.Invalidate("k")
	close(release)
	<-done

	assert.Equal(t, 0, c.Len(), "a refresh that began before Invalidate must not write back")
}

func TestGetOrRefresh_ConcurrentMissesShareRefresh(t *testing.T) {
	c := New[string, string]()
	var calls atomic.Int32
	gate := make(chan struct{})

	refresh := func(context.Context) (string, error) {
		calls.Add(1)
		<-gate
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrRefresh(context.Background(), "k", time.Minute, refresh)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}
