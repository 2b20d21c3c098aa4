// Package dashboard holds the controller that owns the session state and
// decides every transition of the detection dashboard.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
	"github.com/vzahanych/detection-dashboard/internal/config"
	"github.com/vzahanych/detection-dashboard/internal/detector"
	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/notify"
	"github.com/vzahanych/detection-dashboard/internal/poller"
	"github.com/vzahanych/detection-dashboard/internal/selection"
	"github.com/vzahanych/detection-dashboard/internal/stream"
)

// ResetPrompt is asked before statistics and files are wiped
const ResetPrompt = "Reset all statistics and delete all stored files? This cannot be undone."

// ErrSuperseded is returned by a detect call whose response arrived after a
// newer request for the same flow was issued. The response is discarded.
var ErrSuperseded = errors.New("result superseded by a newer request")

// Detector is the detection service
type Detector interface {
	Detect(ctx context.Context, asset selection.Asset, threshold float64) (*detector.ImageResult, error)
	DetectVideo(ctx context.Context, asset selection.Asset, threshold float64) (*detector.VideoResult, error)
	FetchStats(ctx context.Context) (*detector.Stats, error)
	Reset(ctx context.Context) (string, error)
}

// Confirmer asks the user a yes/no question and blocks until answered
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Options wires a Controller
type Options struct {
	Detector Detector
	OpenFeed stream.OpenFunc
	View     View

	Limits           config.LimitsConfig
	DefaultThreshold float64
	RecentLimit      int
	PollInterval     time.Duration
	Notifications    notify.Timings

	// Clock drives the poller and banners; nil means the real clock
	Clock   clockwork.Clock
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// OptionsFromConfig fills the tunables of Options from the loaded config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Limits:           cfg.Limits,
		DefaultThreshold: cfg.Dashboard.DefaultThreshold,
		RecentLimit:      cfg.Dashboard.RecentLimit,
		PollInterval:     cfg.Dashboard.PollInterval,
		Notifications: notify.Timings{
			EnterDelay:   cfg.Notifications.EnterDelay,
			Dwell:        cfg.Notifications.Dwell,
			ExitDuration: cfg.Notifications.ExitDuration,
		},
	}
}

// Controller owns one Session. Network calls are made without holding the
// session lock; view renders are made with it held so they arrive in state
// order.
type Controller struct {
	view     View
	detector Detector
	notifier *notify.Notifier
	toggle   *stream.Toggle
	poller   *poller.Poller
	logger   *logger.Logger
	metrics  *metrics.Metrics

	defaultThreshold float64
	recentLimit      int

	mu      sync.Mutex
	session *Session

	// sessionCtx bounds long-lived work such as the live feed
	sessionCtx    context.Context
	cancelSession context.CancelFunc
}

// New creates a controller. The poller is not running until Start.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.DefaultThreshold == 0 {
		opts.DefaultThreshold = config.DefaultThreshold
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Notifications == (notify.Timings{}) {
		opts.Notifications = notify.DefaultTimings
	}
	if opts.OpenFeed == nil {
		opts.OpenFeed = func(context.Context) (stream.Frames, error) {
			return nil, apperrors.User("open_feed", "Live stream is not available.")
		}
	}

	log := opts.Logger.Named("dashboard")
	sessionCtx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		view:             opts.View,
		detector:         opts.Detector,
		logger:           log,
		metrics:          opts.Metrics,
		defaultThreshold: opts.DefaultThreshold,
		recentLimit:      opts.RecentLimit,
		session:          newSession(opts.Limits, opts.DefaultThreshold),
		sessionCtx:       sessionCtx,
		cancelSession:    cancel,
	}

	c.notifier = notify.New(opts.View, opts.Notifications, opts.Clock, opts.Metrics)
	c.toggle = stream.NewToggle(opts.OpenFeed, opts.View, opts.Logger.Named("stream"), opts.Metrics)
	c.toggle.OnEnded = c.streamEnded
	c.poller = poller.New(c.RefreshStats, opts.PollInterval, opts.Clock, opts.Logger.Named("poller"), opts.Metrics)

	return c
}

// Name identifies the controller to the service manager
func (c *Controller) Name() string {
	return "dashboard"
}

// Start renders the initial state and starts the stats poller
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.view.SetTab(c.session.Tab)
	c.view.SetThreshold(c.session.Threshold)
	c.view.SetStreaming(false)
	c.view.SetLoading(false)
	c.mu.Unlock()

	return c.poller.Start(ctx)
}

// Stop tears the session down
func (c *Controller) Stop(ctx context.Context) error {
	return c.Close(ctx)
}

// Close stops the live stream if bound, releases the poll timer and removes
// any banner.
func (c *Controller) Close(ctx context.Context) error {
	c.toggle.Stop()
	err := c.poller.Stop(ctx)
	c.notifier.Close()
	c.cancelSession()
	return err
}

// Notify shows a banner
func (c *Controller) Notify(message string, severity notify.Severity) notify.Notification {
	return c.notifier.Notify(message, severity)
}

// SelectImage validates f and stores it in the image slot. A rejected file
// leaves the previous selection in place.
func (c *Controller) SelectImage(f selection.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, err := c.session.selections.SelectImage(f)
	if err != nil {
		c.failLocked(err, "The selected file cannot be used.")
		return err
	}

	// a result for the previous image must not appear for this one
	c.session.next(selection.KindImage)
	c.session.result = nil
	c.view.ShowFileInfo(selection.KindImage, asset.Name)
	c.view.HideResult()
	c.notifier.Notify("File selected. Click Detect to start.", notify.SeveritySuccess)

	c.logger.Debug("Image selected", "file", asset.Name, "size", asset.Size, "type", asset.MIMEType)
	return nil
}

// Reject shows err as an error banner and returns it. It is for a file
// refused before the selection rules could see it, such as an upload cut off
// at its size cap. The selections are unchanged.
func (c *Controller) Reject(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err, "The selected file cannot be used.")
	return err
}

// SelectVideo validates f and stores it in the video slot
func (c *Controller) SelectVideo(f selection.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, err := c.session.selections.SelectVideo(f)
	if err != nil {
		c.failLocked(err, "The selected video cannot be used.")
		return err
	}

	c.session.next(selection.KindVideo)
	c.view.ShowFileInfo(selection.KindVideo, asset.Name)
	c.notifier.Notify("Video selected. Click Process Video to start.", notify.SeveritySuccess)

	c.logger.Debug("Video selected", "file", asset.Name, "size", asset.Size, "type", asset.MIMEType)
	return nil
}

// DetectImage sends the selected image with the current threshold and, on
// success, shows the annotated result and refreshes the statistics.
func (c *Controller) DetectImage(ctx context.Context) error {
	asset, threshold, token, err := c.dispatch(selection.KindImage, "No file selected. Choose an image first.")
	if err != nil {
		return err
	}

	res, err := c.detector.Detect(ctx, asset, threshold)

	c.mu.Lock()
	c.endLoadingLocked()
	if !c.session.latest(selection.KindImage, token) {
		c.mu.Unlock()
		c.discard(selection.KindImage, token, err)
		return ErrSuperseded
	}
	if err != nil {
		c.failLocked(err, "Detection failed.")
		c.mu.Unlock()
		return err
	}

	c.showResultLocked(&Result{
		Kind:           selection.KindImage,
		AnnotatedImage: res.AnnotatedImage,
		Detections:     res.Detections,
		Filename:       res.Filename,
	})
	c.notifier.Notify("Detection complete!", notify.SeveritySuccess)
	c.mu.Unlock()

	c.logger.Info("Image detection completed", "file", asset.Name, "detections", len(res.Detections))

	if err := c.RefreshStats(ctx); err != nil {
		c.logger.Debug("Stats refresh after detection failed", "error", err)
	}
	return nil
}

// DetectVideo sends the selected video and shows the preview frame
func (c *Controller) DetectVideo(ctx context.Context) error {
	asset, threshold, token, err := c.dispatch(selection.KindVideo, "No video selected. Choose a video first.")
	if err != nil {
		return err
	}

	res, err := c.detector.DetectVideo(ctx, asset, threshold)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLoadingLocked()
	if !c.session.latest(selection.KindVideo, token) {
		c.discard(selection.KindVideo, token, err)
		return ErrSuperseded
	}
	if err != nil {
		c.failLocked(err, "Video processing failed.")
		return err
	}

	c.showResultLocked(&Result{
		Kind:           selection.KindVideo,
		AnnotatedImage: res.Preview,
		Message:        res.Message,
		Filename:       res.VideoFilename,
	})
	c.notifier.Notify("Video processing complete!", notify.SeveritySuccess)

	c.logger.Info("Video inference completed", "file", asset.Name, "output", res.VideoFilename)
	return nil
}

// dispatch snapshots the selection and threshold for a new request of
// flow and turns the loading indicator on.
func (c *Controller) dispatch(flow selection.Kind, missing string) (selection.Asset, float64, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, ok := c.session.selections.Get(flow)
	if !ok {
		err := apperrors.User("detect_"+string(flow), missing)
		c.failLocked(err, missing)
		return selection.Asset{}, 0, 0, err
	}

	token := c.session.next(flow)
	c.beginLoadingLocked()
	return asset, c.session.Threshold, token, nil
}

func (c *Controller) discard(flow selection.Kind, token uint64, err error) {
	c.metrics.StaleResult(string(flow))
	c.logger.Debug("Discarding stale detect response", "flow", flow, "token", token, "error", err)
}

// Reset asks for confirmation, then wipes server-side statistics and files.
// On success both selections, both file infos and the result are cleared
// and the threshold returns to its default. It reports whether a reset was
// performed; a declined confirmation issues no request.
func (c *Controller) Reset(ctx context.Context, confirmer Confirmer) (bool, error) {
	if confirmer == nil {
		return false, nil
	}
	ok, err := confirmer.Confirm(ctx, ResetPrompt)
	if err != nil {
		return false, err
	}
	if !ok {
		c.logger.Debug("Reset declined")
		return false, nil
	}

	c.mu.Lock()
	c.beginLoadingLocked()
	c.mu.Unlock()

	msg, err := c.detector.Reset(ctx)

	c.mu.Lock()
	c.endLoadingLocked()
	if err != nil {
		c.failLocked(err, "Reset failed.")
		c.mu.Unlock()
		return false, err
	}

	s := c.session
	s.selections.Clear()
	s.next(selection.KindImage)
	s.next(selection.KindVideo)
	s.result = nil
	s.Threshold = c.defaultThreshold
	c.view.HideFileInfo(selection.KindImage)
	c.view.HideFileInfo(selection.KindVideo)
	c.view.HideResult()
	c.view.SetThreshold(s.Threshold)
	c.notifier.Notify("Statistics reset!", notify.SeveritySuccess)
	c.mu.Unlock()

	c.logger.Info("Dashboard reset", "server_message", msg)

	if err := c.RefreshStats(ctx); err != nil {
		c.logger.Debug("Stats refresh after reset failed", "error", err)
	}
	return true, nil
}

// SetThreshold sets the confidence threshold used by the next detect call
func (c *Controller) SetThreshold(value float64) error {
	if value < 0 || value > 1 {
		return apperrors.Validation("set_threshold", "Confidence threshold must be between 0 and 1.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Threshold = value
	c.view.SetThreshold(value)
	return nil
}

// SetThresholdPercent is SetThreshold for slider values 0..100
func (c *Controller) SetThresholdPercent(percent int) error {
	if percent < 0 || percent > 100 {
		return apperrors.Validation("set_threshold", "Confidence threshold must be between 0 and 100%.")
	}
	return c.SetThreshold(float64(percent) / 100)
}

// SwitchTab activates tab. The caller names the tab explicitly.
func (c *Controller) SwitchTab(tab Tab) error {
	if _, err := ParseTab(string(tab)); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "switch_tab", "Unknown tab.", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Tab = tab
	c.view.SetTab(tab)
	return nil
}

// StartStream binds the live feed. It does nothing when already streaming.
func (c *Controller) StartStream(ctx context.Context) error {
	started, err := c.toggle.Start(ctx, c.sessionCtx)
	if err != nil {
		c.mu.Lock()
		c.failLocked(err, "Could not start the live stream.")
		c.mu.Unlock()
		return err
	}
	if started {
		c.notifier.Notify("Stream started!", notify.SeveritySuccess)
	}
	return nil
}

// StopStream unbinds the live feed. It does nothing when idle.
func (c *Controller) StopStream() {
	if c.toggle.Stop() {
		c.notifier.Notify("Stream stopped!", notify.SeverityInfo)
	}
}

// Streaming reports whether the live feed is bound
func (c *Controller) Streaming() bool {
	return c.toggle.Streaming()
}

func (c *Controller) streamEnded(err error) {
	if err != nil {
		c.logger.Warn("Live stream lost", "error", err)
	}
	c.notifier.Notify("Live stream ended.", notify.SeverityWarning)
}

// RefreshStats fetches the statistics and replaces the displayed snapshot.
// A failure leaves the previous snapshot on screen and is not shown to the
// user.
func (c *Controller) RefreshStats(ctx context.Context) error {
	stats, err := c.detector.FetchStats(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.stats = stats
	c.view.ShowStats(RenderStats(*stats, c.recentLimit))
	return nil
}

// Snapshot returns the current state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	st := State{
		Tab:       s.Tab,
		Threshold: s.Threshold,
		Image:     fileInfo(s.selections.Image()),
		Video:     fileInfo(s.selections.Video()),
		Loading:   s.loading > 0,
		Stream:    c.toggle.State(),
	}
	if s.result != nil {
		rv := s.result.Render()
		st.Result = &rv
	}
	if s.stats != nil {
		sv := RenderStats(*s.stats, c.recentLimit)
		st.Stats = &sv
	}
	if n, ok := c.notifier.Current(); ok {
		st.Notification = &n
	}
	return st
}

func (c *Controller) showResultLocked(r *Result) {
	c.session.result = r
	c.view.ShowResult(r.Render())
}

func (c *Controller) beginLoadingLocked() {
	c.session.loading++
	if c.session.loading == 1 {
		c.view.SetLoading(true)
	}
}

func (c *Controller) endLoadingLocked() {
	if c.session.loading == 0 {
		return
	}
	c.session.loading--
	if c.session.loading == 0 {
		c.view.SetLoading(false)
	}
}

// failLocked surfaces err as an error banner
func (c *Controller) failLocked(err error, fallback string) {
	c.notifier.Notify(failureMessage(err, fallback), notify.SeverityError)
	c.logger.Warn("Dashboard action failed", "kind", apperrors.KindOf(err), "error", err)
}

func failureMessage(err error, fallback string) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindNetwork:
		return apperrors.UserMessage(err, "Network error. Could not reach the detection service.")
	case apperrors.KindTimeout:
		return apperrors.UserMessage(err, "The detection service did not respond in time.")
	}
	return apperrors.UserMessage(err, fallback)
}
