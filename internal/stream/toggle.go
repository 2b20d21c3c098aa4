// Package stream binds the live annotated camera feed to a display. The
// toggle is either Idle or Streaming; while Streaming a reader goroutine
// forwards every frame to the display.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
)

type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
)

// Frames is an open feed
type Frames interface {
	Next() ([]byte, error)
	Close() error
}

// OpenFunc connects to the feed. The returned Frames must stop when ctx is
// cancelled.
type OpenFunc func(ctx context.Context) (Frames, error)

// Display is where the stream is shown
type Display interface {
	SetStreaming(on bool)
	ShowFrame(jpeg []byte)
}

// Toggle is the Idle/Streaming state machine
type Toggle struct {
	open    OpenFunc
	display Display
	logger  *logger.Logger
	metrics *metrics.Metrics

	// OnEnded is called, without locks held, when the feed stops on its
	// own while Streaming. err is nil for a clean end of stream.
	OnEnded func(err error)

	mu     sync.Mutex
	state  State
	feed   Frames
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64

	// connecting is set while an open is in flight
	connecting bool
	cancelOpen context.CancelFunc
}

func NewToggle(open OpenFunc, display Display, log *logger.Logger, m *metrics.Metrics) *Toggle {
	return &Toggle{
		open:    open,
		display: display,
		logger:  log,
		metrics: m,
		state:   StateIdle,
	}
}

// State returns the current state
func (t *Toggle) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Streaming reports whether a feed is bound
func (t *Toggle) Streaming() bool {
	return t.State() == StateStreaming
}

// Start binds the feed to the display. The connection lives as long as
// session; opening it is bounded by ctx. The open runs without the lock held,
// so State stays answerable (Idle) while the feed connects. It reports false
// when the toggle was already Streaming or connecting, or when Stop cancelled
// the open.
func (t *Toggle) Start(ctx, session context.Context) (bool, error) {
	t.mu.Lock()
	if t.state == StateStreaming || t.connecting {
		t.mu.Unlock()
		return false, nil
	}
	t.gen++
	gen := t.gen
	feedCtx, cancel := context.WithCancel(session)
	t.connecting = true
	t.cancelOpen = cancel
	t.mu.Unlock()

	stopAbort := context.AfterFunc(ctx, cancel)
	feed, err := t.open(feedCtx)
	stopAbort()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connecting || t.gen != gen {
		// Stop ran while connecting
		cancel()
		if err == nil {
			feed.Close()
		}
		return false, nil
	}
	t.connecting = false
	t.cancelOpen = nil

	if err != nil {
		cancel()
		return false, err
	}

	t.state = StateStreaming
	t.feed = feed
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.read(feed, gen, t.done)

	t.metrics.SetStreamActive(true)
	t.display.SetStreaming(true)
	t.logger.Info("Live stream started")
	return true, nil
}

// Stop cancels the feed, closes it and hides the display. A pending open is
// abandoned. It reports false when no feed was bound.
func (t *Toggle) Stop() bool {
	t.mu.Lock()
	if t.connecting {
		t.cancelOpen()
		t.connecting = false
		t.cancelOpen = nil
		t.mu.Unlock()
		t.logger.Info("Live stream open cancelled")
		return false
	}
	if t.state == StateIdle {
		t.mu.Unlock()
		return false
	}
	done := t.done
	t.unbindLocked()
	t.mu.Unlock()

	<-done
	t.logger.Info("Live stream stopped")
	return true
}

// unbindLocked drops the feed reference so the connection is released,
// not merely hidden.
func (t *Toggle) unbindLocked() {
	t.cancel()
	if err := t.feed.Close(); err != nil {
		t.logger.Debug("Closing live feed", "error", err)
	}
	t.feed = nil
	t.cancel = nil
	t.done = nil
	t.state = StateIdle

	t.metrics.SetStreamActive(false)
	t.display.SetStreaming(false)
}

func (t *Toggle) read(feed Frames, gen uint64, done chan struct{}) {
	defer close(done)

	var readErr error
	for {
		frame, err := feed.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		t.metrics.StreamFrame()
		t.display.ShowFrame(frame)
	}

	t.mu.Lock()
	ended := t.state == StateStreaming && t.gen == gen
	if ended {
		t.unbindLocked()
	}
	onEnded := t.OnEnded
	t.mu.Unlock()

	if ended {
		t.logger.Warn("Live stream ended", "error", readErr)
		if onEnded != nil {
			onEnded(readErr)
		}
	}
}
