// Package worker runs the per-camera capture loop: frames are read from the
// stream, scored, fed through the event collector and turned into
// notifications, while heartbeat lines on stdout keep the supervisor informed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"herdwatch/internal/command"
	"herdwatch/internal/engine"
	"herdwatch/internal/heartbeat"
	"herdwatch/internal/logger"
	"herdwatch/internal/models"
	"herdwatch/internal/notify"
	"herdwatch/internal/source"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultHeartbeatEvery = 100
	DefaultDrainTimeout   = 2 * time.Minute
	// MaxDetectFailures is how many consecutive detector errors end the loop.
	MaxDetectFailures = 10
)

// ErrDetectorUnavailable ends the capture loop after repeated detector errors.
var ErrDetectorUnavailable = errors.New("detector unavailable")

// Detector scores one frame.
type Detector interface {
	Detect(ctx context.Context, frame engine.Frame) (engine.Result, error)
}

// Store is the frame store plus the live-feed file.
type Store interface {
	engine.FrameStore
	WriteLive(data []byte) error
}

// Observer is the event state machine fed with every processed frame.
type Observer interface {
	Observe(frame engine.Frame, res engine.Result, now time.Time) engine.Observation
}

// Config holds the loop settings that do not belong to the collector.
type Config struct {
	CameraID            string
	CameraName          string
	FilePrefix          string
	ProcessEveryN       int
	LiveFeed            bool
	StatusNotifications bool
	Manual              models.ManualCapture
	ReconnectDelay      time.Duration
	HeartbeatEvery      int
	DrainTimeout        time.Duration
}

// ConfigFrom builds the loop settings from resolved worker settings.
func ConfigFrom(ws *models.WorkerSettings) Config {
	return Config{
		CameraID:            ws.Camera.ID,
		CameraName:          ws.Camera.Name,
		FilePrefix:          ws.Mode.FilePrefix,
		ProcessEveryN:       ws.Mode.ProcessEveryNFrames,
		LiveFeed:            ws.Camera.ShowLiveFeed,
		StatusNotifications: ws.Mode.SendStatusNotifications,
		Manual:              ws.Mode.ManualCapture,
	}
}

type Option func(*Worker)

// WithManualCapture polls chat commands with listener and saves frames while
// window is open.
func WithManualCapture(listener *command.Listener, window *command.ManualWindow) Option {
	return func(w *Worker) {
		w.listener = listener
		w.window = window
	}
}

// WithAnnotator draws detections on the live-feed frame.
func WithAnnotator(a engine.Annotator) Option {
	return func(w *Worker) { w.annotator = a }
}

// WithBackground runs fn alongside the loop. Its context is cancelled once
// the notification queue has drained.
func WithBackground(fn func(ctx context.Context)) Option {
	return func(w *Worker) { w.background = append(w.background, fn) }
}

// WithOutput redirects heartbeat lines, os.Stdout by default.
func WithOutput(out io.Writer) Option {
	return func(w *Worker) { w.out = out }
}

func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(w *Worker) {
		w.now = now
		w.sleep = sleep
	}
}

// Worker owns everything one camera process runs with.
type Worker struct {
	cfg        Config
	src        source.FrameSource
	detector   Detector
	collector  Observer
	dispatcher *notify.Dispatcher
	store      Store
	annotator  engine.Annotator
	listener   *command.Listener
	window     *command.ManualWindow
	background []func(ctx context.Context)
	out        io.Writer
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) bool
	log        *logger.Entry

	frames       int
	detectErrors int
	manualSaved  time.Time
	manualSent   time.Time
}

func New(cfg Config, src source.FrameSource, det Detector, collector Observer, dispatcher *notify.Dispatcher, store Store, opts ...Option) *Worker {
	if cfg.ProcessEveryN < 1 {
		cfg.ProcessEveryN = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HeartbeatEvery < 1 {
		cfg.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	w := &Worker{
		cfg:        cfg,
		src:        src,
		detector:   det,
		collector:  collector,
		dispatcher: dispatcher,
		store:      store,
		out:        os.Stdout,
		now:        time.Now,
		sleep:      sleepCtx,
		log:        logger.Tagged(cfg.CameraID),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Frames is the number of frames read so far.
func (w *Worker) Frames() int { return w.frames }

// Run captures until ctx is done or the loop fails, then drains the
// notification queue and sends the stop message.
func (w *Worker) Run(ctx context.Context) error {
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	g, bgCtx := errgroup.WithContext(bgCtx)

	g.Go(func() error {
		w.dispatcher.Run(bgCtx)
		return nil
	})
	for _, fn := range w.background {
		g.Go(func() error {
			fn(bgCtx)
			return nil
		})
	}
	listenCtx, stopListening := context.WithCancel(ctx)
	if w.listener != nil {
		g.Go(func() error {
			w.listener.Run(listenCtx)
			return nil
		})
	}

	if w.cfg.StatusNotifications {
		w.dispatcher.EnqueueText(fmt.Sprintf("📋 %s detection started at %s",
			w.cfg.CameraName, w.now().Format("2006-01-02 15:04:05")), false)
	}

	err := w.capture(ctx)
	stopListening()

	reason := "Worker stopped"
	if err != nil {
		reason = fmt.Sprintf("Worker stopped due to error: %v", err)
		w.log.Errorf("%s", reason)
	}
	w.shutdown(reason)

	cancelBg()
	_ = g.Wait()
	return err
}

func (w *Worker) capture(ctx context.Context) error {
	fmt.Fprintln(w.out, heartbeat.StreamOpening+"...")
	if err := w.src.Open(ctx); err != nil {
		return fmt.Errorf("open camera stream: %w", err)
	}
	w.log.Infof("Camera stream successfully opened")
	w.log.Infof("Processing started, every %d frames will be analyzed", w.cfg.ProcessEveryN)

	for ctx.Err() == nil {
		frame, err := w.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Errorf("Cannot read frame from camera: %v", err)
			_ = w.src.Close()
			if !w.sleep(ctx, w.cfg.ReconnectDelay) {
				break
			}
			if err := w.src.Open(ctx); err != nil && ctx.Err() == nil {
				w.log.Errorf("Reopening camera stream failed: %v", err)
			}
			continue
		}
		if err := w.step(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) step(ctx context.Context, frame engine.Frame) error {
	w.frames++
	if w.frames%w.cfg.HeartbeatEvery == 0 {
		sent, failed := w.dispatcher.Stats()
		fmt.Fprintf(w.out, "%s: %d | Queue: %d | Sent: %d | Failed: %d\n",
			heartbeat.FramesProcessed, w.frames, w.dispatcher.Pending(), sent, failed)
	}

	now := w.now()
	if w.frames%w.cfg.ProcessEveryN == 0 {
		if err := w.process(ctx, frame, now); err != nil {
			return err
		}
	}
	if w.window != nil {
		w.manualCapture(frame, now)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, frame engine.Frame, now time.Time) error {
	res, err := w.detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.detectErrors++
		w.log.Warnf("Detection failed (%d/%d): %v", w.detectErrors, MaxDetectFailures, err)
		if w.detectErrors >= MaxDetectFailures {
			return fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
		}
		return nil
	}
	w.detectErrors = 0

	w.collector.Observe(frame, res, now)

	if w.cfg.LiveFeed {
		w.writeLive(frame, res)
	}
	return nil
}

func (w *Worker) writeLive(frame engine.Frame, res engine.Result) {
	data := frame.Data
	if w.annotator != nil {
		annotated, err := w.annotator.Annotate(frame.Data, res.Detections, res.TopConfidence())
		if err != nil {
			w.log.Debugf("Live frame annotation failed: %v", err)
		} else {
			data = annotated
		}
	}
	if err := w.store.WriteLive(data); err != nil {
		w.log.Debugf("Writing live frame failed: %v", err)
	}
}

// manualCapture saves a raw frame every save interval while the window is
// open and sends one of them, silently, every notify interval.
func (w *Worker) manualCapture(frame engine.Frame, now time.Time) {
	if !w.window.Active(now) {
		w.manualSaved = time.Time{}
		w.manualSent = time.Time{}
		return
	}
	if !w.manualSaved.IsZero() && now.Sub(w.manualSaved) < w.cfg.Manual.SaveInterval {
		return
	}
	w.manualSaved = now

	path, err := w.store.Save(frame.Data, engine.FrameName(w.cfg.FilePrefix, now, 0, "_manual"))
	if err != nil {
		w.log.Errorf("Failed to save manual capture: %v", err)
		return
	}
	w.log.Debugf("Manual capture saved: %s", path)

	if !w.manualSent.IsZero() && now.Sub(w.manualSent) < w.cfg.Manual.NotifyInterval {
		return
	}
	w.manualSent = now
	caption := fmt.Sprintf("📷 Manual capture %s %s\nActive until %s",
		w.cfg.CameraName, now.Format("02-01-2006 15:04:05"), w.window.Expiry().Format("15:04"))
	w.dispatcher.EnqueuePhoto(path, caption, true)
}

func (w *Worker) shutdown(reason string) {
	w.log.Infof("Waiting for %d remaining notification tasks...", w.dispatcher.Pending())
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()
	if err := w.dispatcher.Shutdown(ctx); err != nil {
		w.log.Warnf("Notification queue not drained: %v", err)
	}

	_ = w.src.Close()
	w.log.Infof("Camera stream closed and resources released")
	w.log.Infof("Total frames processed: %d", w.frames)

	if !w.cfg.StatusNotifications {
		return
	}
	_, failed := w.dispatcher.Stats()
	text := fmt.Sprintf("⚠️ WARNING: %s detection stopped at %s\nReason: %s\nFailed: %d",
		w.cfg.CameraName, w.now().Format("2006-01-02 15:04:05"), reason, failed)
	if w.dispatcher.Deliver(context.Background(), notify.Task{Kind: notify.KindText, Text: text}) {
		w.log.Infof("Stop message sent")
	}
}
