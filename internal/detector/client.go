package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/selection"
)

const (
	pathUpload    = "/upload"
	pathVideo     = "/video-inference"
	pathStats     = "/stats"
	pathReset     = "/reset"
	pathVideoFeed = "/video_feed"
)

// Client is an HTTP client for the detection service
type Client struct {
	serviceURL string
	httpClient *http.Client
	timeout    time.Duration
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// ClientConfig contains configuration for the detection client
type ClientConfig struct {
	ServiceURL string
	Timeout    time.Duration
	// HTTPClient overrides the transport (tests, custom TLS)
	HTTPClient *http.Client
}

// NewClient creates a new detection service client. Timeout applies per
// request except for the live feed, which is bounded only by its context.
func NewClient(config ClientConfig, log *logger.Logger, m *metrics.Metrics) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: httpClient,
		timeout:    config.Timeout,
		logger:     log,
		metrics:    m,
	}
}

// ServiceURL returns the base URL of the detection service
func (c *Client) ServiceURL() string {
	return c.serviceURL
}

// Detect uploads an image with the confidence threshold to /upload
func (c *Client) Detect(ctx context.Context, asset selection.Asset, threshold float64) (*ImageResult, error) {
	const op = "detect"

	var resp uploadResponse
	if err := c.postAsset(ctx, op, pathUpload, "file", asset, threshold, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperrors.Server(op, resp.Error)
	}

	img, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindServer, op, "invalid annotated image", err)
	}

	c.logger.Debug("Detection completed",
		"file", asset.Name,
		"detection_count", len(resp.Detections),
		"result_file", resp.Filename,
	)

	detections := resp.Detections
	if detections == nil {
		detections = []Detection{}
	}
	return &ImageResult{AnnotatedImage: img, Detections: detections, Filename: resp.Filename}, nil
}

// DetectVideo uploads a video with the confidence threshold to /video-inference
func (c *Client) DetectVideo(ctx context.Context, asset selection.Asset, threshold float64) (*VideoResult, error) {
	const op = "detect_video"

	var resp videoResponse
	if err := c.postAsset(ctx, op, pathVideo, "video", asset, threshold, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperrors.Server(op, resp.Error)
	}

	preview, err := base64.StdEncoding.DecodeString(resp.Preview)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindServer, op, "invalid preview image", err)
	}

	c.logger.Debug("Video inference completed", "file", asset.Name, "result_file", resp.VideoFilename)

	return &VideoResult{Preview: preview, Message: resp.Message, VideoFilename: resp.VideoFilename}, nil
}

// FetchStats retrieves the aggregate detection statistics
func (c *Client) FetchStats(ctx context.Context) (*Stats, error) {
	const op = "fetch_stats"

	req, cancel, err := c.newRequest(ctx, http.MethodGet, pathStats, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNetwork, op, "failed to create request", err)
	}
	defer cancel()

	var stats Stats
	if err := c.do(op, pathStats, req, &stats); err != nil {
		return nil, err
	}
	if stats.ClassCounts == nil {
		stats.ClassCounts = map[string]int{}
	}
	return &stats, nil
}

// Reset clears server-side statistics and stored files. It returns the
// server's confirmation message.
func (c *Client) Reset(ctx context.Context) (string, error) {
	const op = "reset"

	req, cancel, err := c.newRequest(ctx, http.MethodPost, pathReset, nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindNetwork, op, "failed to create request", err)
	}
	defer cancel()

	var resp resetResponse
	if err := c.do(op, pathReset, req, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", apperrors.Server(op, resp.Error)
	}
	return resp.Message, nil
}

// HealthCheck checks that the detection service answers /stats
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.FetchStats(ctx)
	return err
}

func (c *Client) postAsset(
	ctx context.Context,
	op, path, field string,
	asset selection.Asset,
	threshold float64,
	out interface{},
) error {
	body, contentType, err := encodeAsset(field, asset, threshold)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, op, "failed to read selected file", err)
	}

	req, cancel, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.KindNetwork, op, "failed to create request", err)
	}
	defer cancel()
	req.Header.Set("Content-Type", contentType)

	c.logger.Debug("Sending detection request",
		"url", req.URL.String(),
		"file", asset.Name,
		"size", asset.Size,
		"threshold", threshold,
	)
	return c.do(op, path, req, out)
}

// newRequest builds a request bounded by the client timeout
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, context.CancelFunc, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(reqCtx, method, c.serviceURL+path, body)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, cancel, nil
}

// do sends req and decodes the JSON reply into out. Failures are classified
// into network, timeout and server errors.
func (c *Client) do(op, path string, req *http.Request, out interface{}) error {
	start := time.Now()
	outcome := "ok"
	defer func() {
		c.metrics.ObserveRequest(path, outcome, time.Since(start))
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransportError(op, err)
		outcome = string(classified.Kind)
		c.logger.Warn("Detection service request failed", "op", op, "error", err)
		return classified
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		classified := classifyTransportError(op, err)
		outcome = string(classified.Kind)
		return classified
	}

	if err := json.Unmarshal(body, out); err != nil {
		outcome = string(apperrors.KindServer)
		if resp.StatusCode >= http.StatusBadRequest {
			return apperrors.Server(op, "")
		}
		return apperrors.Wrap(apperrors.KindServer, op, "", fmt.Errorf("failed to parse response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = string(apperrors.KindServer)
		c.logger.Warn("Detection service returned error",
			"op", op,
			"status", resp.StatusCode,
			"response", truncate(string(body), 256),
		)
		return apperrors.Server(op, serverMessage(out))
	}

	return nil
}

// serverMessage extracts the optional error text of a decoded reply
func serverMessage(out interface{}) string {
	switch v := out.(type) {
	case *uploadResponse:
		return v.Error
	case *videoResponse:
		return v.Error
	case *resetResponse:
		return v.Error
	}
	return ""
}

func classifyTransportError(op string, err error) *apperrors.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Wrap(apperrors.KindTimeout, op, "The detection service did not respond in time.", err)
	}
	return apperrors.Wrap(apperrors.KindNetwork, op, "", err)
}

// encodeAsset builds the multipart body carrying the file and threshold
func encodeAsset(field string, asset selection.Asset, threshold float64) (*bytes.Buffer, string, error) {
	src, err := asset.Open()
	if err != nil {
		return nil, "", err
	}
	defer src.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, asset.Name))
	contentType := asset.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("confidence_threshold", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
