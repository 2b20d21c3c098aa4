package dashboard

import (
	"github.com/vzahanych/detection-dashboard/internal/config"
	"github.com/vzahanych/detection-dashboard/internal/detector"
	"github.com/vzahanych/detection-dashboard/internal/notify"
	"github.com/vzahanych/detection-dashboard/internal/selection"
	"github.com/vzahanych/detection-dashboard/internal/stream"
)

// Session is the mutable state of one dashboard. It is owned by the
// Controller and only touched with the controller lock held.
type Session struct {
	Tab       Tab
	Threshold float64

	selections *selection.Manager
	result     *Result
	stats      *detector.Stats
	loading    int

	// seq is the latest dispatched request number per detect flow
	seq map[selection.Kind]uint64
}

func newSession(limits config.LimitsConfig, threshold float64) *Session {
	return &Session{
		Tab:        TabImage,
		Threshold:  threshold,
		selections: selection.NewManager(limits),
		seq:        make(map[selection.Kind]uint64),
	}
}

// next issues a new token for flow, invalidating any request in flight
func (s *Session) next(flow selection.Kind) uint64 {
	s.seq[flow]++
	return s.seq[flow]
}

func (s *Session) latest(flow selection.Kind, token uint64) bool {
	return s.seq[flow] == token
}

// State is a point-in-time copy of the session for clients that connect
// after renders were sent.
type State struct {
	Tab          Tab                  `json:"tab"`
	Threshold    float64              `json:"threshold"`
	Image        *FileInfo            `json:"image,omitempty"`
	Video        *FileInfo            `json:"video,omitempty"`
	Result       *ResultView          `json:"result,omitempty"`
	Stats        *StatsView           `json:"stats,omitempty"`
	Loading      bool                 `json:"loading"`
	Stream       stream.State         `json:"stream"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

func fileInfo(a selection.Asset, ok bool) *FileInfo {
	if !ok {
		return nil
	}
	return &FileInfo{Name: a.Name, Size: a.Size, MIMEType: a.MIMEType}
}
