package selection

import (
	"fmt"
	"strings"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
	"github.com/vzahanych/detection-dashboard/internal/config"
)

// Rules are the acceptance rules for one slot
type Rules struct {
	MaxBytes int64
	Types    []string
	// Labels is the human list of formats used in rejection messages
	Labels string
}

func (r Rules) allows(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, t := range r.Types {
		if strings.EqualFold(t, mimeType) {
			return true
		}
	}
	return false
}

// Manager tracks at most one image and one video. It is not safe for
// concurrent use; the dashboard controller serializes access.
type Manager struct {
	image      *Asset
	video      *Asset
	imageRules Rules
	videoRules Rules
}

// NewManager creates a selection manager from the configured limits
func NewManager(limits config.LimitsConfig) *Manager {
	return &Manager{
		imageRules: Rules{MaxBytes: limits.ImageMaxBytes, Types: limits.ImageTypes, Labels: "JPG, PNG or GIF"},
		videoRules: Rules{MaxBytes: limits.VideoMaxBytes, Types: limits.VideoTypes, Labels: "MP4, AVI, MOV, MKV, WMV or FLV"},
	}
}

// SelectImage validates f and, when accepted, replaces the image slot
func (m *Manager) SelectImage(f File) (Asset, error) {
	asset, err := validate(KindImage, m.imageRules, f)
	if err != nil {
		return Asset{}, err
	}
	m.image = &asset
	return asset, nil
}

// SelectVideo validates f and, when accepted, replaces the video slot
func (m *Manager) SelectVideo(f File) (Asset, error) {
	asset, err := validate(KindVideo, m.videoRules, f)
	if err != nil {
		return Asset{}, err
	}
	m.video = &asset
	return asset, nil
}

// Select dispatches to the slot for kind
func (m *Manager) Select(kind Kind, f File) (Asset, error) {
	switch kind {
	case KindImage:
		return m.SelectImage(f)
	case KindVideo:
		return m.SelectVideo(f)
	default:
		return Asset{}, apperrors.Validation("select", fmt.Sprintf("unknown asset kind %q", kind))
	}
}

// Image returns the selected image, if any
func (m *Manager) Image() (Asset, bool) {
	if m.image == nil {
		return Asset{}, false
	}
	return *m.image, true
}

// Video returns the selected video, if any
func (m *Manager) Video() (Asset, bool) {
	if m.video == nil {
		return Asset{}, false
	}
	return *m.video, true
}

// Get returns the asset in the slot for kind
func (m *Manager) Get(kind Kind) (Asset, bool) {
	if kind == KindVideo {
		return m.Video()
	}
	return m.Image()
}

// Clear removes both selections
func (m *Manager) Clear() {
	m.image = nil
	m.video = nil
}

func validate(kind Kind, rules Rules, f File) (Asset, error) {
	op := "select_" + string(kind)

	if !rules.allows(f.MIMEType) {
		noun := "file"
		if kind == KindVideo {
			noun = "video file"
		}
		return Asset{}, apperrors.Validation(op, fmt.Sprintf("Unsupported %s type %q. Use %s.", noun, f.MIMEType, rules.Labels))
	}
	if f.Size > rules.MaxBytes {
		return Asset{}, apperrors.Validation(op, fmt.Sprintf("File is too large (%s). Maximum is %s.", formatBytes(f.Size), formatBytes(rules.MaxBytes)))
	}
	if f.Size < 0 {
		return Asset{}, apperrors.Validation(op, "File size is invalid.")
	}

	return Asset{
		Kind:     kind,
		Name:     f.Name,
		Size:     f.Size,
		MIMEType: strings.ToLower(f.MIMEType),
		Source:   f.Source,
	}, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	if n < unit*unit {
		return fmt.Sprintf("%.1f KiB", float64(n)/unit)
	}
	return fmt.Sprintf("%.1f MiB", float64(n)/(unit*unit))
}
