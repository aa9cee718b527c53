package engine

import (
	"path/filepath"
	"strings"
	"time"

	"herdwatch/internal/logger"
	"herdwatch/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type CollectorOption func(*Collector)

// WithAnnotator enables annotated images for live feeds and dispatch.
func WithAnnotator(a Annotator) CollectorOption {
	return func(c *Collector) {
		c.annotator = a
	}
}

// WithEventSink receives a summary for every dispatched event.
func WithEventSink(s EventSink) CollectorOption {
	return func(c *Collector) {
		c.sink = s
	}
}

// WithHistoryCapacity overrides the rolling history size.
func WithHistoryCapacity(n int) CollectorOption {
	return func(c *Collector) {
		c.history = NewSampleHistory(n)
	}
}

// Observation describes what a single Observe call did.
type Observation struct {
	Started    bool
	Stopped    bool
	Reason     StopReason
	Eligible   bool
	Dispatched int
}

// Collector opens, extends and closes detection events and hands the
// representative samples of eligible events to the notifier. It is not safe
// for concurrent use; the capture loop owns it.
type Collector struct {
	cfg       Settings
	store     FrameStore
	notifier  Notifier
	annotator Annotator
	sink      EventSink
	log       *logger.Entry

	history       *SampleHistory
	event         *Event
	lastDispatch  time.Time
	notifications int
	seq           uint64
}

func NewCollector(cfg Settings, store FrameStore, notifier Notifier, opts ...CollectorOption) *Collector {
	if cfg.SoundEveryNNotifications < 1 {
		cfg.SoundEveryNNotifications = 1
	}
	c := &Collector{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		history:  NewSampleHistory(HistoryCapacity),
		log:      logger.Tagged(cfg.CameraID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collecting reports whether an event is in progress.
func (c *Collector) Collecting() bool { return c.event != nil }

// Event returns the in-progress event, or nil.
func (c *Collector) Event() *Event { return c.event }

// Notifications is the number of eligible events dispatched so far.
func (c *Collector) Notifications() int { return c.notifications }

func (c *Collector) History() *SampleHistory { return c.history }

// Observe feeds one scored frame through the state machine.
func (c *Collector) Observe(frame Frame, res Result, now time.Time) Observation {
	var obs Observation
	top := res.TopConfidence()
	c.seq++
	sample := Sample{Confidence: top, Frame: frame, Timestamp: now, Seq: c.seq}

	if c.event == nil && top >= c.cfg.SaveThreshold && c.cooldownElapsed(now) {
		c.start(now)
		obs.Started = true
	}

	if c.event != nil {
		c.collect(sample, res, now)
		if reason, stop := c.stopReason(top, now); stop {
			obs.Stopped = true
			obs.Reason = reason
			obs.Eligible, obs.Dispatched = c.finish(reason, now)
		}
	}

	c.history.Push(sample)
	return obs
}

func (c *Collector) cooldownElapsed(now time.Time) bool {
	return c.lastDispatch.IsZero() || now.Sub(c.lastDispatch) > c.cfg.CooldownPeriod
}

func (c *Collector) start(now time.Time) {
	c.log.Infof("Starting screenshot collection for %s (searching for peak moment)", c.cfg.MaxCollectionTime)
	c.event = &Event{
		ID:            uuid.NewString(),
		Start:         now,
		LastDetection: now,
	}

	for _, s := range c.history.AtLeast(c.cfg.SaveThreshold) {
		name := FrameName(c.cfg.FilePrefix, s.Timestamp, s.Confidence, "_history")
		path, err := c.store.Save(s.Frame.Data, name)
		if err != nil {
			c.log.Errorf("Failed to save history frame: %v", err)
		}
		es := EventSample{
			Confidence: s.Confidence,
			SavedPath:  path,
			Timestamp:  s.Timestamp,
			Seq:        s.Seq,
		}
		if c.cfg.KeepAnnotated {
			es.Annotated = c.annotate(s.Frame, nil, s.Confidence)
		}
		c.event.Samples = append(c.event.Samples, es)
	}
}

func (c *Collector) collect(s Sample, res Result, now time.Time) {
	ev := c.event
	if s.Confidence < c.cfg.SaveThreshold {
		ev.Inactivity = now.Sub(ev.LastDetection)
		if ev.Inactivity >= 2*time.Second {
			c.log.Debugf("Inactivity period: %.1fs", ev.Inactivity.Seconds())
		}
		return
	}

	name := FrameName(c.cfg.FilePrefix, s.Timestamp, s.Confidence, "")
	path, err := c.store.Save(s.Frame.Data, name)
	if err != nil {
		c.log.Errorf("Failed to save frame: %v", err)
	}
	resCopy := Result{Detections: append([]Detection(nil), res.Detections...)}
	es := EventSample{
		Confidence: s.Confidence,
		SavedPath:  path,
		Result:     &resCopy,
		Timestamp:  s.Timestamp,
		Seq:        s.Seq,
	}
	if c.cfg.KeepAnnotated {
		es.Annotated = c.annotate(s.Frame, res.Detections, s.Confidence)
	}
	ev.Samples = append(ev.Samples, es)
	c.log.Infof("Detection added to collection: %.2f", s.Confidence)

	ev.Inactivity = 0
	ev.LastDetection = now

	if s.Confidence >= c.cfg.PeakThreshold && !ev.PeakFound {
		ev.PeakFound = true
		c.log.Infof("Possible peak detected with confidence %.2f", s.Confidence)
	}
}

func (c *Collector) stopReason(top float64, now time.Time) (StopReason, bool) {
	ev := c.event
	duration := now.Sub(ev.Start)
	switch {
	case ev.PeakFound && duration >= c.cfg.MinCollectionTime:
		return StopPeak, true
	case duration >= c.cfg.MaxCollectionTime:
		return StopMaxTime, true
	case c.cfg.VeryHighConfidence > 0 && top >= c.cfg.VeryHighConfidence && duration >= time.Second:
		return StopVeryHigh, true
	case ev.Inactivity >= c.cfg.InactivityStopTime:
		return StopInactivity, true
	}
	return "", false
}

// finish closes the event and dispatches it when eligible.
func (c *Collector) finish(reason StopReason, now time.Time) (bool, int) {
	ev := c.event
	c.event = nil

	c.log.Infof("Collection stopped after %.1f seconds with %d detections (%s)",
		now.Sub(ev.Start).Seconds(), len(ev.Samples), reason)

	if len(ev.Samples) == 0 {
		return false, 0
	}

	confidences := lo.Map(ev.Samples, func(s EventSample, _ int) float64 { return s.Confidence })
	high := lo.CountBy(confidences, func(v float64) bool { return v >= c.cfg.NotifyThreshold })
	maxConf := lo.Max(confidences)
	c.log.Infof("Number of high confidence detections: %d/%d required", high, c.cfg.MinHighConfidenceDetections)

	if maxConf < c.cfg.NotifyThreshold {
		c.log.Infof("Highest confidence (%.2f) lower than notify threshold (%.2f). No notification sent.", maxConf, c.cfg.NotifyThreshold)
		return false, 0
	}
	if high < c.cfg.MinHighConfidenceDetections {
		c.log.Infof("Too few high confidence detections (%d/%d). No notification sent.", high, c.cfg.MinHighConfidenceDetections)
		return false, 0
	}

	selected, peak := SelectRepresentatives(confidences, c.cfg.MaxScreenshots)
	c.notifications++
	audible := c.notifications%c.cfg.SoundEveryNNotifications == 0

	var photos []string
	for rank, idx := range selected {
		s := ev.Samples[idx]
		path := c.photoPath(s)
		if path == "" {
			c.log.Warnf("No saved frame for sample %.2f, skipping", s.Confidence)
			continue
		}
		stage := stageName(idx, peak, len(selected))
		caption := Caption(c.cfg.EventLabel, s.Timestamp, s.Confidence, stage, rank+1, len(selected), audible)
		c.notifier.EnqueuePhoto(path, caption, !audible)
		photos = append(photos, path)
		c.log.Infof("Notification queued for %s: %.2f", stage, s.Confidence)
	}

	c.lastDispatch = now
	c.log.Infof("Cooldown period of %s started", c.cfg.CooldownPeriod)
	if audible {
		c.log.Infof("Sound notification #%d queued", c.notifications)
	} else {
		c.log.Infof("Silent notification #%d queued (sound every %d)", c.notifications, c.cfg.SoundEveryNNotifications)
	}

	if c.sink != nil {
		c.sink.EventDispatched(models.EventSummary{
			ID:            ev.ID,
			Camera:        c.cfg.CameraID,
			Mode:          c.cfg.Mode,
			Start:         ev.Start,
			End:           now,
			Samples:       len(ev.Samples),
			MaxConfidence: maxConf,
			StopReason:    string(reason),
			Notification:  c.notifications,
			Audible:       audible,
			Photos:        photos,
		})
	}
	return true, len(photos)
}

// photoPath returns the file to send for a sample, writing an annotated copy
// when annotated images are enabled.
func (c *Collector) photoPath(s EventSample) string {
	if !c.cfg.SendAnnotatedImages || c.annotator == nil || s.SavedPath == "" {
		return s.SavedPath
	}

	name := strings.TrimSuffix(filepath.Base(s.SavedPath), ".jpg") + "_annotated.jpg"

	var annotated []byte
	switch {
	case s.Annotated != nil:
		annotated = s.Annotated.Data
	case s.Result != nil:
		raw, err := c.store.Load(s.SavedPath)
		if err != nil {
			c.log.Warnf("Could not load original frame for %s, sending original", s.SavedPath)
			return s.SavedPath
		}
		annotated, err = c.annotator.Annotate(raw, s.Result.Detections, s.Confidence)
		if err != nil {
			c.log.Warnf("Could not annotate %s: %v", s.SavedPath, err)
			return s.SavedPath
		}
	default:
		return s.SavedPath
	}

	path, err := c.store.Save(annotated, name)
	if err != nil {
		c.log.Warnf("Could not save annotated frame: %v", err)
		return s.SavedPath
	}
	return path
}

func (c *Collector) annotate(f Frame, dets []Detection, confidence float64) *Frame {
	if c.annotator == nil {
		return nil
	}
	data, err := c.annotator.Annotate(f.Data, dets, confidence)
	if err != nil {
		c.log.Debugf("Annotation failed: %v", err)
		return nil
	}
	return &Frame{Data: data, CapturedAt: f.CapturedAt}
}
