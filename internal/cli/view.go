// Package cli renders dashboard state on a terminal for the command line
// tools.
package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/vzahanych/detection-dashboard/internal/dashboard"
	"github.com/vzahanych/detection-dashboard/internal/notify"
	"github.com/vzahanych/detection-dashboard/internal/selection"
)

var _ dashboard.View = (*Terminal)(nil)

// Terminal prints dashboard updates as plain lines. Banner lifecycle
// updates and live frames have no terminal rendering and are dropped.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer

	// Quiet suppresses progress lines (loading, tab, threshold, stream)
	Quiet bool
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

func (t *Terminal) ShowFileInfo(kind selection.Kind, name string) {
	t.progressf("Selected %s: %s\n", kind, name)
}

func (t *Terminal) HideFileInfo(kind selection.Kind) {
	t.progressf("Cleared %s selection\n", kind)
}

func (t *Terminal) ShowResult(r dashboard.ResultView) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Filename != "" {
		fmt.Fprintf(t.out, "Result for %s:\n", r.Filename)
	}
	if len(r.Entries) == 0 {
		fmt.Fprintf(t.out, "  %s\n", r.Message)
		return
	}
	for _, e := range r.Entries {
		fmt.Fprintf(t.out, "  %s\n", e)
	}
}

func (t *Terminal) HideResult() {}

func (t *Terminal) ShowStats(s dashboard.StatsView) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "Total detections: %d\n", s.TotalDetections)
	if len(s.ClassCounts) > 0 {
		classes := make([]string, 0, len(s.ClassCounts))
		for class := range s.ClassCounts {
			classes = append(classes, class)
		}
		sort.Slice(classes, func(i, j int) bool {
			ci, cj := s.ClassCounts[classes[i]], s.ClassCounts[classes[j]]
			if ci != cj {
				return ci > cj
			}
			return classes[i] < classes[j]
		})
		parts := make([]string, 0, len(classes))
		for _, class := range classes {
			parts = append(parts, fmt.Sprintf("%s=%d", class, s.ClassCounts[class]))
		}
		fmt.Fprintf(t.out, "By class: %s\n", strings.Join(parts, ", "))
	}
	for _, a := range s.Recent {
		fmt.Fprintf(t.out, "  %s  %s\n", a.Time, a.Label)
	}
}

func (t *Terminal) SetLoading(on bool) {
	if on {
		t.progressf("Processing...\n")
	}
}

func (t *Terminal) SetThreshold(value float64) {
	t.progressf("Confidence threshold: %.0f%%\n", value*100)
}

func (t *Terminal) SetTab(tab dashboard.Tab) {}

func (t *Terminal) ShowNotification(n notify.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", severityTag(n.Severity), n.Message)
}

func (t *Terminal) UpdateNotification(n notify.Notification) {}

func (t *Terminal) RemoveNotification(id string) {}

func (t *Terminal) SetStreaming(on bool) {
	if on {
		t.progressf("Live stream started\n")
		return
	}
	t.progressf("Live stream stopped\n")
}

func (t *Terminal) ShowFrame(jpeg []byte) {}

func (t *Terminal) progressf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Quiet {
		return
	}
	fmt.Fprintf(t.out, format, args...)
}

func severityTag(s notify.Severity) string {
	switch s {
	case notify.SeveritySuccess:
		return "[ok]"
	case notify.SeverityWarning:
		return "[warn]"
	case notify.SeverityError:
		return "[error]"
	default:
		return "[info]"
	}
}
