package selection

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Kind distinguishes the two selection slots
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Source opens the payload of a selected file. It is opened once per
// dispatched request.
type Source interface {
	Open() (io.ReadCloser, error)
}

// File describes a candidate file: what the user picked, before validation.
type File struct {
	Name     string
	Size     int64
	MIMEType string
	Source   Source
}

// Asset is a validated selection held in one of the slots
type Asset struct {
	Kind     Kind
	Name     string
	Size     int64
	MIMEType string
	Source   Source
}

// Open opens the asset payload
func (a Asset) Open() (io.ReadCloser, error) {
	if a.Source == nil {
		return nil, fmt.Errorf("asset %s has no payload source", a.Name)
	}
	return a.Source.Open()
}

// BytesSource serves an in-memory payload
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// PathSource reads the payload from disk at dispatch time
type PathSource string

func (p PathSource) Open() (io.ReadCloser, error) {
	return os.Open(string(p))
}

// sniffed MIME names mapped to the names the dashboard validates against
var canonicalTypes = map[string]string{
	"video/x-msvideo":  "video/avi",
	"video/quicktime":  "video/mov",
	"video/x-matroska": "video/mkv",
	"video/x-ms-wmv":   "video/wmv",
	"video/x-ms-asf":   "video/wmv",
	"video/x-flv":      "video/flv",
}

// FromFile builds a candidate from a local file, detecting its MIME type
// from content.
func FromFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to detect type of %s: %w", path, err)
	}

	mediaType, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		mediaType = detected.String()
	}
	if canonical, ok := canonicalTypes[mediaType]; ok {
		mediaType = canonical
	}

	return File{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MIMEType: mediaType,
		Source:   PathSource(path),
	}, nil
}
