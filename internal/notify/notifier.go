// Package notify shows transient status banners. Only one banner exists at
// a time: a new notification replaces the current one immediately.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vzahanych/detection-dashboard/internal/metrics"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Phase is where a banner is in its lifecycle
type Phase string

const (
	PhaseEntering Phase = "entering"
	PhaseVisible  Phase = "visible"
	PhaseLeaving  Phase = "leaving"
	PhaseRemoved  Phase = "removed"
)

type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink renders banners. Calls are made with the notifier lock held, so a
// sink must not call back into the Notifier.
type Sink interface {
	ShowNotification(n Notification)
	UpdateNotification(n Notification)
	RemoveNotification(id string)
}

// Timings are measured from the moment Notify is called
type Timings struct {
	EnterDelay   time.Duration // entering -> visible
	Dwell        time.Duration // creation -> leaving
	ExitDuration time.Duration // leaving -> removed
}

// DefaultTimings match the dashboard defaults: slide in after 100ms, stay
// until 5s, slide out over 300ms.
var DefaultTimings = Timings{
	EnterDelay:   100 * time.Millisecond,
	Dwell:        5 * time.Second,
	ExitDuration: 300 * time.Millisecond,
}

type banner struct {
	n      Notification
	timers []clockwork.Timer
}

// Notifier owns the single visible banner
type Notifier struct {
	mu      sync.Mutex
	sink    Sink
	clock   clockwork.Clock
	timings Timings
	metrics *metrics.Metrics
	current *banner
}

// New creates a notifier. A nil clock uses the real clock.
func New(sink Sink, timings Timings, clock clockwork.Clock, m *metrics.Metrics) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{
		sink:    sink,
		clock:   clock,
		timings: timings,
		metrics: m,
	}
}

// Notify shows message, removing whatever banner is currently displayed
func (n *Notifier) Notify(message string, severity Severity) Notification {
	if severity == "" {
		severity = SeverityInfo
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.dropCurrentLocked()

	b := &banner{n: Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		Phase:     PhaseEntering,
		CreatedAt: n.clock.Now(),
	}}
	id := b.n.ID
	b.timers = []clockwork.Timer{
		n.clock.AfterFunc(n.timings.EnterDelay, func() { n.advance(id, PhaseVisible) }),
		n.clock.AfterFunc(n.timings.Dwell, func() { n.advance(id, PhaseLeaving) }),
		n.clock.AfterFunc(n.timings.Dwell+n.timings.ExitDuration, func() { n.advance(id, PhaseRemoved) }),
	}
	n.current = b

	n.metrics.Notified(string(severity))
	n.sink.ShowNotification(b.n)

	return b.n
}

// Current returns the banner on screen, if any
func (n *Notifier) Current() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Notification{}, false
	}
	return n.current.n, true
}

// Close removes the current banner and releases its timers
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropCurrentLocked()
}

func (n *Notifier) dropCurrentLocked() {
	if n.current == nil {
		return
	}
	for _, t := range n.current.timers {
		t.Stop()
	}
	n.sink.RemoveNotification(n.current.n.ID)
	n.current = nil
}

// advance moves banner id to phase; timers of superseded banners are ignored
func (n *Notifier) advance(id string, phase Phase) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current == nil || n.current.n.ID != id {
		return
	}

	if phase == PhaseRemoved {
		n.sink.RemoveNotification(id)
		n.current = nil
		return
	}

	n.current.n.Phase = phase
	n.sink.UpdateNotification(n.current.n)
}
