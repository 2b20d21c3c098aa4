package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
	"github.com/vzahanych/detection-dashboard/internal/dashboard"
	"github.com/vzahanych/detection-dashboard/internal/selection"
)

// uploadSlack covers multipart framing around the file part
const uploadSlack = 1 << 20

type thresholdRequest struct {
	Value   *float64 `json:"value"`
	Percent *int     `json:"percent"`
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.dashboard.Snapshot())
}

// handleSelect accepts one uploaded file for kind. The part's declared
// Content-Type is the type validated, as a browser reports it.
func (s *Server) handleSelect(kind selection.Kind, field string) gin.HandlerFunc {
	maxBytes := s.limits.ImageMaxBytes
	if kind == selection.KindVideo {
		maxBytes = s.limits.VideoMaxBytes
	}

	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+uploadSlack)

		op := "select_" + string(kind)

		fh, err := c.FormFile(field)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = apperrors.Validation(op, fmt.Sprintf("File is too large. Maximum is %d MB.", maxBytes>>20))
			} else {
				err = apperrors.User(op, fmt.Sprintf("No file received. Choose a %s to upload.", kind))
			}
			s.respondError(c, s.dashboard.Reject(err))
			return
		}

		f, err := fileFromUpload(fh, maxBytes)
		if err != nil {
			s.respondError(c, s.dashboard.Reject(apperrors.Wrap(apperrors.KindValidation, op, "Failed to read the uploaded file.", err)))
			return
		}

		if kind == selection.KindVideo {
			err = s.dashboard.SelectVideo(f)
		} else {
			err = s.dashboard.SelectImage(f)
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s.dashboard.Snapshot())
	}
}

// fileFromUpload copies the part into memory. Oversized parts are not read;
// selection rejects them on size alone.
func fileFromUpload(fh *multipart.FileHeader, maxBytes int64) (selection.File, error) {
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}

	f := selection.File{Name: filepath.Base(fh.Filename), Size: fh.Size, MIMEType: mimeType}
	if fh.Size > maxBytes {
		return f, nil
	}

	src, err := fh.Open()
	if err != nil {
		return f, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return f, err
	}
	f.Source = selection.BytesSource(data)
	return f, nil
}

func (s *Server) handleDetectImage(c *gin.Context) {
	s.respond(c, s.dashboard.DetectImage(c.Request.Context()))
}

func (s *Server) handleDetectVideo(c *gin.Context) {
	s.respond(c, s.dashboard.DetectVideo(c.Request.Context()))
}

func (s *Server) handleThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "kind": apperrors.KindValidation})
		return
	}

	var err error
	switch {
	case req.Value != nil:
		err = s.dashboard.SetThreshold(*req.Value)
	case req.Percent != nil:
		err = s.dashboard.SetThresholdPercent(*req.Percent)
	default:
		err = apperrors.Validation("set_threshold", `Provide "value" (0..1) or "percent" (0..100).`)
	}
	s.respond(c, err)
}

func (s *Server) handleTab(c *gin.Context) {
	s.respond(c, s.dashboard.SwitchTab(dashboard.Tab(c.Param("name"))))
}

func (s *Server) handleStreamStart(c *gin.Context) {
	s.respond(c, s.dashboard.StartStream(c.Request.Context()))
}

func (s *Server) handleStreamStop(c *gin.Context) {
	s.dashboard.StopStream()
	s.respond(c, nil)
}

// handleReset carries the page's confirmation in the body; a request
// without confirm=true is a declined prompt.
func (s *Server) handleReset(c *gin.Context) {
	var req resetRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "kind": apperrors.KindValidation})
			return
		}
	}

	confirm := dashboard.ConfirmFunc(func(context.Context, string) (bool, error) {
		return req.Confirm, nil
	})

	done, err := s.dashboard.Reset(c.Request.Context(), confirm)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reset": done,
		"state": s.dashboard.Snapshot(),
	})
}

// handleMJPEG relays the bound live feed as multipart/x-mixed-replace
func (s *Server) handleMJPEG(c *gin.Context) {
	frames, cancel, ok := s.hub.subscribeFrames()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Live stream is not active"})
		return
	}
	defer cancel()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-frames:
			if !ok {
				return false
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return false
			}
			if _, err := w.Write(frame); err != nil {
				return false
			}
			_, err := io.WriteString(w, "\r\n")
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) respond(c *gin.Context, err error) {
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.dashboard.Snapshot())
}

// respondError maps the failure kind to a status. The banner has already
// been shown by the controller; the body repeats its text.
func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, dashboard.ErrSuperseded) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "superseded"})
		return
	}

	kind := apperrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindValidation, apperrors.KindUser:
		status = http.StatusBadRequest
	case apperrors.KindNetwork, apperrors.KindServer:
		status = http.StatusBadGateway
	case apperrors.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	c.JSON(status, gin.H{
		"error": apperrors.UserMessage(err, err.Error()),
		"kind":  kind,
	})
}
