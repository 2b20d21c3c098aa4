// Package poller refreshes the dashboard statistics on a fixed interval for
// as long as the session lives.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/service"
)

// RefreshFunc fetches and displays one statistics snapshot
type RefreshFunc func(ctx context.Context) error

// Poller fires RefreshFunc once on start and then every interval. Failures
// are logged and counted; the previously displayed snapshot stays as is.
type Poller struct {
	*service.ServiceBase
	refresh  RefreshFunc
	interval time.Duration
	clock    clockwork.Clock
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stats poller. A nil clock uses the real clock.
func New(refresh RefreshFunc, interval time.Duration, clock clockwork.Clock, log *logger.Logger, m *metrics.Metrics) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		ServiceBase: service.NewServiceBase("stats-poller", log),
		refresh:     refresh,
		interval:    interval,
		clock:       clock,
		metrics:     m,
	}
}

// Start begins polling. Calling Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx, p.done)

	p.GetStatus().SetStatus(service.StatusRunning)
	p.LogInfo("Stats poller started", "interval", p.interval)
	return nil
}

// Stop releases the ticker and waits for an in-progress refresh to return
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.GetStatus().SetStatus(service.StatusStopped)
	p.LogInfo("Stats poller stopped")
	return nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.poll(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollFailed()
		p.LogDebug("Stats refresh failed", "error", err)
	}
}
