package detector

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Detection is one labelled object returned by the detection service
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
	BBox       []int   `json:"bbox,omitempty"`
}

// uploadResponse is the JSON body of POST /upload
type uploadResponse struct {
	Success         bool        `json:"success"`
	Image           string      `json:"image"` // base64-encoded annotated JPEG
	Detections      []Detection `json:"detections"`
	Filename        string      `json:"filename,omitempty"`
	TotalDetections int         `json:"total_detections,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// videoResponse is the JSON body of POST /video-inference
type videoResponse struct {
	Success       bool   `json:"success"`
	Preview       string `json:"preview"` // base64-encoded first annotated frame
	VideoFilename string `json:"video_filename,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

// resetResponse is the JSON body of POST /reset
type resetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ImageResult is a decoded successful image detection
type ImageResult struct {
	AnnotatedImage []byte
	Detections     []Detection
	Filename       string
}

// VideoResult is a decoded successful video inference. The processed video
// stays on the server; only a preview frame comes back.
type VideoResult struct {
	Preview       []byte
	Message       string
	VideoFilename string
}

// Stats is the aggregate snapshot returned by GET /stats
type Stats struct {
	TotalDetections  int               `json:"total_detections"`
	ClassCounts      map[string]int    `json:"class_counts"`
	RecentDetections []RecentDetection `json:"recent_detections"`
}

// RecentDetection is one entry of the server's detection history
type RecentDetection struct {
	Timestamp Timestamp `json:"timestamp"`
	Total     int       `json:"total"`
}

// Recent returns the last n history entries, oldest first.
func (s Stats) Recent(n int) []RecentDetection {
	if n <= 0 || len(s.RecentDetections) == 0 {
		return nil
	}
	start := len(s.RecentDetections) - n
	if start < 0 {
		start = 0
	}
	out := make([]RecentDetection, len(s.RecentDetections)-start)
	copy(out, s.RecentDetections[start:])
	return out
}

// Timestamp accepts RFC 3339 as well as the zone-less ISO-8601 form the
// detection service emits (Python's datetime.isoformat()). Zone-less values
// are read as local time.
type Timestamp struct {
	time.Time
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range zonelessLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
