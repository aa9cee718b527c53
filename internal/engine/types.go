package engine

import (
	"time"

	"herdwatch/internal/models"
)

// Frame is one encoded (JPEG) video frame. Frames handed to the engine are
// owned by it; callers clone before sharing.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Clone returns a deep copy so the frame can cross goroutine boundaries.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Data: data, CapturedAt: f.CapturedAt}
}

func (f Frame) Empty() bool { return len(f.Data) == 0 }

// Detection is a single scored box returned by the detection model.
type Detection struct {
	Confidence float64    `json:"confidence"`
	Class      int        `json:"class"`
	Label      string     `json:"label,omitempty"`
	Box        [4]float64 `json:"box"` // x1, y1, x2, y2 in pixels
}

// Result is everything the model produced for one frame.
type Result struct {
	Detections []Detection `json:"detections"`
}

// Top returns the highest-confidence detection.
func (r Result) Top() (Detection, bool) {
	if len(r.Detections) == 0 {
		return Detection{}, false
	}
	best := r.Detections[0]
	for _, d := range r.Detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}

// TopConfidence is Top().Confidence, or 0 for an empty result.
func (r Result) TopConfidence() float64 {
	d, ok := r.Top()
	if !ok {
		return 0
	}
	return d.Confidence
}

// Sample is a scored frame held in the rolling history.
type Sample struct {
	Confidence float64
	Frame      Frame
	Timestamp  time.Time
	Seq        uint64
}

// EventSample is a sample committed to an event.
type EventSample struct {
	Confidence float64
	Annotated  *Frame // kept only when the camera has a live feed
	SavedPath  string
	Result     *Result
	Timestamp  time.Time
	Seq        uint64
}

// StopReason records which stop condition closed an event.
type StopReason string

const (
	StopPeak       StopReason = "peak"
	StopMaxTime    StopReason = "max_collection_time"
	StopVeryHigh   StopReason = "very_high_confidence"
	StopInactivity StopReason = "inactivity"
)

// Event exists only while the collector is collecting.
type Event struct {
	ID            string
	Start         time.Time
	Samples       []EventSample
	PeakFound     bool
	LastDetection time.Time
	Inactivity    time.Duration
}

// Settings are the thresholds and timings the collector runs with.
type Settings struct {
	CameraID                    string
	CameraName                  string
	Mode                        string
	SaveThreshold               float64
	NotifyThreshold             float64
	PeakThreshold               float64
	VeryHighConfidence          float64 // 0 disables the very-high stop
	MinHighConfidenceDetections int
	MaxScreenshots              int
	SendAnnotatedImages         bool
	KeepAnnotated               bool
	MaxCollectionTime           time.Duration
	MinCollectionTime           time.Duration
	InactivityStopTime          time.Duration
	CooldownPeriod              time.Duration
	SoundEveryNNotifications    int
	EventLabel                  string
	FilePrefix                  string
}

// SettingsFrom maps resolved worker settings onto collector settings.
func SettingsFrom(ws *models.WorkerSettings) Settings {
	m := ws.Mode
	return Settings{
		CameraID:                    ws.Camera.ID,
		CameraName:                  ws.Camera.Name,
		Mode:                        ws.Camera.Mode,
		SaveThreshold:               m.SaveThreshold,
		NotifyThreshold:             m.NotifyThreshold,
		PeakThreshold:               m.PeakThreshold,
		VeryHighConfidence:          m.VeryHighConfidence,
		MinHighConfidenceDetections: m.MinHighConfidenceDetections,
		MaxScreenshots:              m.MaxScreenshots,
		SendAnnotatedImages:         m.SendAnnotatedImages,
		KeepAnnotated:               ws.Camera.ShowLiveFeed,
		MaxCollectionTime:           m.CollectionTime,
		MinCollectionTime:           m.MinCollectionTime,
		InactivityStopTime:          m.InactivityStopTime,
		CooldownPeriod:              m.CooldownPeriod,
		SoundEveryNNotifications:    m.SoundEveryNNotifications,
		EventLabel:                  m.EventLabel,
		FilePrefix:                  m.FilePrefix,
	}
}

// FrameStore persists frames under the camera directory.
type FrameStore interface {
	Save(data []byte, name string) (string, error)
	Load(path string) ([]byte, error)
}

// Annotator draws detections onto an encoded frame.
type Annotator interface {
	Annotate(data []byte, dets []Detection, confidence float64) ([]byte, error)
}

// Notifier accepts photo notifications without blocking.
type Notifier interface {
	EnqueuePhoto(path, caption string, silent bool)
}

// EventSink observes dispatched events (MQTT summaries, archive uploads).
type EventSink interface {
	EventDispatched(summary models.EventSummary)
}
