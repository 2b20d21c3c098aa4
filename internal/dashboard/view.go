package dashboard

import (
	"fmt"
	"time"

	"github.com/vzahanych/detection-dashboard/internal/detector"
	"github.com/vzahanych/detection-dashboard/internal/notify"
	"github.com/vzahanych/detection-dashboard/internal/selection"
	"github.com/vzahanych/detection-dashboard/internal/stream"
)

// View is the render surface of the dashboard. The controller decides every
// transition and tells the view what to show; a view never reads state on
// its own. Implementations must not call back into the Controller from a
// render method.
type View interface {
	ShowFileInfo(kind selection.Kind, name string)
	HideFileInfo(kind selection.Kind)
	ShowResult(r ResultView)
	HideResult()
	ShowStats(s StatsView)
	SetLoading(on bool)
	SetThreshold(value float64)
	SetTab(tab Tab)

	notify.Sink
	stream.Display
}

// Tab is one of the dashboard panes
type Tab string

const (
	TabImage  Tab = "image"
	TabVideo  Tab = "video"
	TabStream Tab = "stream"
)

// ParseTab validates a tab name
func ParseTab(name string) (Tab, error) {
	switch t := Tab(name); t {
	case TabImage, TabVideo, TabStream:
		return t, nil
	}
	return "", fmt.Errorf("unknown tab %q", name)
}

// NoObjectsText is shown instead of an empty detection list
const NoObjectsText = "No objects detected."

// VideoDoneText is shown for a finished video when the server sends no message
const VideoDoneText = "Video processing completed. Check the results folder for the processed video."

// Result is the last successful detection. It is replaced, never mutated.
type Result struct {
	Kind           selection.Kind
	AnnotatedImage []byte
	Detections     []detector.Detection
	Message        string
	Filename       string
}

// ResultView is a rendered Result
type ResultView struct {
	Kind    selection.Kind `json:"kind"`
	Image   []byte         `json:"image"`
	Entries []string       `json:"entries"`
	// Empty marks the distinct "no objects detected" state
	Empty    bool   `json:"empty"`
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// FormatDetection renders a detection as its class and a one-decimal percentage
func FormatDetection(d detector.Detection) string {
	return fmt.Sprintf("%s — %.1f%%", d.Class, d.Confidence*100)
}

// Render converts a result for display
func (r Result) Render() ResultView {
	v := ResultView{
		Kind:     r.Kind,
		Image:    r.AnnotatedImage,
		Entries:  []string{},
		Message:  r.Message,
		Filename: r.Filename,
	}
	if r.Kind == selection.KindVideo {
		if v.Message == "" {
			v.Message = VideoDoneText
		}
		return v
	}
	if len(r.Detections) == 0 {
		v.Empty = true
		v.Message = NoObjectsText
		return v
	}
	for _, d := range r.Detections {
		v.Entries = append(v.Entries, FormatDetection(d))
	}
	return v
}

// StatsView is a rendered statistics snapshot
type StatsView struct {
	TotalDetections int            `json:"total_detections"`
	ClassCounts     map[string]int `json:"class_counts"`
	Recent          []ActivityView `json:"recent"`
}

// ActivityView is one line of recent activity
type ActivityView struct {
	Timestamp time.Time `json:"timestamp"`
	Time      string    `json:"time"`
	Label     string    `json:"label"`
}

// RenderStats keeps the last limit history entries, most recent last
func RenderStats(s detector.Stats, limit int) StatsView {
	v := StatsView{
		TotalDetections: s.TotalDetections,
		ClassCounts:     make(map[string]int, len(s.ClassCounts)),
		Recent:          []ActivityView{},
	}
	for class, n := range s.ClassCounts {
		v.ClassCounts[class] = n
	}
	for _, r := range s.Recent(limit) {
		label := fmt.Sprintf("%d detections", r.Total)
		if r.Total == 1 {
			label = "1 detection"
		}
		v.Recent = append(v.Recent, ActivityView{
			Timestamp: r.Timestamp.Time,
			Time:      r.Timestamp.Local().Format("15:04:05"),
			Label:     label,
		})
	}
	return v
}

// FileInfo describes a selected file
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}
