package poller

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/service"
)

func waitCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not called")
	}
}

func TestPoller_RefreshesOnStartAndEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan struct{}, 10)
	refresh := func(ctx context.Context) error {
		calls <- struct{}{}
		return nil
	}

	p := New(refresh, 5*time.Second, clock, logger.NewNopLogger(), nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	waitCall(t, calls)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(4 * time.Second)
	select {
	case <-calls:
		t.Fatal("refresh fired before the interval elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)
	waitCall(t, calls)

	clock.Advance(5 * time.Second)
	waitCall(t, calls)

	assert.Equal(t, service.StatusRunning, p.GetStatus().GetStatus())
}

func TestPoller_FailuresAreCountedNotFatal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := metrics.New()
	var n atomic.Int32
	calls := make(chan struct{}, 10)
	refresh := func(ctx context.Context) error {
		defer func() { calls <- struct{}{} }()
		if n.Add(1) == 1 {
			return errors.New("connection refused")
		}
		return nil
	}

	p := New(refresh, time.Second, clock, logger.NewNopLogger(), m)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	waitCall(t, calls)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	waitCall(t, calls)

	expected := `
# HELP dashboard_stats_poll_failures_total Background stats refreshes that failed and were ignored
# TYPE dashboard_stats_poll_failures_total counter
dashboard_stats_poll_failures_total 1
`
	assert.Eventually(t, func() bool {
		return testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
			"dashboard_stats_poll_failures_total") == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), n.Load())
}

func TestPoller_StopReleasesTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var n atomic.Int32
	refresh := func(ctx context.Context) error {
		n.Add(1)
		return nil
	}

	p := New(refresh, time.Second, clock, logger.NewNopLogger(), nil)
	require.NoError(t, p.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.NoError(t, p.Stop(context.Background()))
	before := n.Load()

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, before, n.Load())
	assert.Equal(t, service.StatusStopped, p.GetStatus().GetStatus())
}

func TestPoller_StartStopIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresh := func(ctx context.Context) error { return nil }

	p := New(refresh, time.Second, clock, logger.NewNopLogger(), nil)
	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, "stats-poller", p.Name())
}
