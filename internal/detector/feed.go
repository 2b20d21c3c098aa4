package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
)

// maxFrameBytes bounds a single JPEG part of the live feed
const maxFrameBytes = 8 << 20

// Feed is an open connection to the live annotated camera stream
// (multipart/x-mixed-replace). It must be closed to release the connection.
type Feed struct {
	body   io.ReadCloser
	reader *multipart.Reader
	cancel context.CancelFunc

	closeOnce sync.Once
}

// OpenFeed connects to /video_feed. The response headers must arrive within
// the client timeout; after that the connection lives until ctx is done or
// the feed is closed.
func (c *Client) OpenFeed(ctx context.Context) (*Feed, error) {
	const op = "open_feed"

	feedCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(feedCtx, http.MethodGet, c.serviceURL+pathVideoFeed, nil)
	if err != nil {
		cancel()
		return nil, apperrors.Wrap(apperrors.KindNetwork, op, "failed to create request", err)
	}

	var timedOut atomic.Bool
	headerTimer := time.AfterFunc(c.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if !headerTimer.Stop() && timedOut.Load() {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		c.metrics.ObserveRequest(pathVideoFeed, string(apperrors.KindTimeout), time.Since(start))
		return nil, apperrors.Wrap(apperrors.KindTimeout, op, "The live feed did not respond in time.", context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		classified := classifyTransportError(op, err)
		c.metrics.ObserveRequest(pathVideoFeed, string(classified.Kind), time.Since(start))
		return nil, classified
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		c.metrics.ObserveRequest(pathVideoFeed, string(apperrors.KindServer), time.Since(start))
		return nil, apperrors.Server(op, fmt.Sprintf("Live feed unavailable (status %d).", resp.StatusCode))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		c.metrics.ObserveRequest(pathVideoFeed, string(apperrors.KindServer), time.Since(start))
		return nil, apperrors.Server(op, "Live feed is not a multipart image stream.")
	}

	c.metrics.ObserveRequest(pathVideoFeed, "ok", time.Since(start))
	c.logger.Debug("Live feed opened", "url", req.URL.String(), "boundary", params["boundary"])

	return &Feed{
		body:   resp.Body,
		reader: multipart.NewReader(resp.Body, params["boundary"]),
		cancel: cancel,
	}, nil
}

// Next blocks until the next frame arrives. It returns io.EOF once the feed
// has ended or been closed.
func (f *Feed) Next() ([]byte, error) {
	part, err := f.reader.NextPart()
	if err != nil {
		return nil, f.endErr(err)
	}
	defer part.Close()

	frame, err := io.ReadAll(io.LimitReader(part, maxFrameBytes+1))
	if err != nil {
		return nil, f.endErr(err)
	}
	if len(frame) > maxFrameBytes {
		return nil, fmt.Errorf("feed frame exceeds %d bytes", maxFrameBytes)
	}
	return frame, nil
}

// Close releases the underlying connection. It is safe to call more than once.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.cancel()
		err = f.body.Close()
	})
	return err
}

func (f *Feed) endErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.Canceled) {
		return io.EOF
	}
	return err
}
