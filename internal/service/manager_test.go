package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/detection-dashboard/internal/logger"
)

// stubService records its lifecycle calls into a shared journal
type stubService struct {
	name     string
	journal  *journal
	startErr error
	stopErr  error
	// blockStop makes Stop wait for its context
	blockStop bool
	// hang makes Stop ignore its context for this long
	hang time.Duration
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (s *stubService) Name() string {
	return s.name
}

func (s *stubService) Start(ctx context.Context) error {
	if s.startErr != nil {
		s.journal.add("start-failed:" + s.name)
		return s.startErr
	}
	s.journal.add("start:" + s.name)
	return nil
}

func (s *stubService) Stop(ctx context.Context) error {
	if s.hang > 0 {
		time.Sleep(s.hang)
	}
	if s.blockStop {
		<-ctx.Done()
		s.journal.add("stop-timeout:" + s.name)
		return ctx.Err()
	}
	s.journal.add("stop:" + s.name)
	return s.stopErr
}

// newDashboardServices registers the services the dashboard binary runs
func newDashboardServices(t *testing.T, j *journal, overrides ...*stubService) (*Manager, map[string]*stubService) {
	t.Helper()
	mgr := NewManager(logger.NewNopLogger())

	services := map[string]*stubService{}
	for _, name := range []string{"dashboard", "stats-poller", "web-server"} {
		svc := &stubService{name: name, journal: j}
		for _, o := range overrides {
			if o.name == name {
				svc = o
				svc.journal = j
			}
		}
		services[name] = svc
		mgr.Register(svc)
	}
	return mgr, services
}

func TestManager_RegisterStartsStopped(t *testing.T) {
	mgr, _ := newDashboardServices(t, &journal{})

	assert.Equal(t, 3, mgr.GetServiceCount())
	for name, status := range mgr.GetAllStatuses() {
		assert.Equal(t, StatusStopped, status.GetStatus(), name)
	}
	assert.Nil(t, mgr.GetServiceStatus("unknown"))
}

func TestManager_StartInRegistrationOrder(t *testing.T) {
	j := &journal{}
	mgr, _ := newDashboardServices(t, j)

	require.NoError(t, mgr.Start(context.Background()))

	assert.Equal(t, []string{"start:dashboard", "start:stats-poller", "start:web-server"}, j.list())
	for name, status := range mgr.GetAllStatuses() {
		assert.True(t, status.IsRunning(), name)
	}
}

func TestManager_StartRefusesCancelledContext(t *testing.T) {
	j := &journal{}
	mgr, _ := newDashboardServices(t, j)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, mgr.Start(ctx), context.Canceled)
	assert.Empty(t, j.list())
}

func TestManager_FailedStartContinuesWithTheRest(t *testing.T) {
	j := &journal{}
	mgr, _ := newDashboardServices(t, j,
		&stubService{name: "stats-poller", startErr: errors.New("detection service unreachable")},
	)

	require.NoError(t, mgr.Start(context.Background()), "a failed service does not abort startup")
	assert.Equal(t, []string{"start:dashboard", "start-failed:stats-poller", "start:web-server"}, j.list())

	poller := mgr.GetServiceStatus("stats-poller")
	assert.Equal(t, StatusError, poller.GetStatus())
	assert.EqualError(t, poller.GetError(), "detection service unreachable")
	assert.True(t, mgr.GetServiceStatus("web-server").IsRunning())

	// only started services are stopped, newest first
	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, []string{"stop:web-server", "stop:dashboard"}, j.list()[3:])
	assert.Equal(t, StatusError, poller.GetStatus(), "a service that never ran keeps its start error")
}

func TestManager_ShutdownReverseOrder(t *testing.T) {
	j := &journal{}
	mgr, _ := newDashboardServices(t, j)
	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	assert.Equal(t, []string{"stop:web-server", "stop:stats-poller", "stop:dashboard"}, j.list()[3:])
	for name, status := range mgr.GetAllStatuses() {
		assert.Equal(t, StatusStopped, status.GetStatus(), name)
	}

	// a second shutdown has nothing left to stop
	require.NoError(t, mgr.Shutdown(ctx))
	assert.Len(t, j.list(), 6)
}

func TestManager_StopErrorDoesNotAbortShutdown(t *testing.T) {
	j := &journal{}
	mgr, _ := newDashboardServices(t, j,
		&stubService{name: "web-server", stopErr: errors.New("listener already closed")},
	)
	require.NoError(t, mgr.Start(context.Background()))

	require.NoError(t, mgr.Shutdown(context.Background()))

	assert.Equal(t, StatusError, mgr.GetServiceStatus("web-server").GetStatus())
	assert.Equal(t, StatusStopped, mgr.GetServiceStatus("dashboard").GetStatus())
}

func TestManager_PerServiceStopTimeout(t *testing.T) {
	j := &journal{}
	mgr, _ := newDashboardServices(t, j,
		&stubService{name: "web-server", blockStop: true},
	)
	mgr.stopTimeout = 50 * time.Millisecond
	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, mgr.Shutdown(ctx), "an overrunning service must not stall the others")
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{"stop-timeout:web-server", "stop:stats-poller", "stop:dashboard"}, j.list()[3:])
	web := mgr.GetServiceStatus("web-server")
	assert.Equal(t, StatusError, web.GetStatus())
	assert.ErrorIs(t, web.GetError(), context.DeadlineExceeded)
}

func TestManager_ShutdownDeadline(t *testing.T) {
	mgr, _ := newDashboardServices(t, &journal{},
		&stubService{name: "dashboard", hang: 500 * time.Millisecond},
	)
	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := mgr.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timeout")
}

func TestServiceStatus_Snapshot(t *testing.T) {
	ss := NewServiceStatus("stats-poller")
	ss.SetError(errors.New("unreachable"))

	snap := ss.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "unreachable", snap.Error)

	ss.SetStatus(StatusRunning)
	assert.NoError(t, ss.GetError(), "running clears the previous error")
	assert.Empty(t, ss.Snapshot().Error)
}
