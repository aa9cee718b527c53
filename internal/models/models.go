package models

import "time"

// Detection modes.
const (
	ModeCowCatcher = "cowcatcher"
	ModeCalving    = "calving"
)

// Config defines the user settings shared by the supervisor and its workers.
type Config struct {
	LogLevel   string                  `yaml:"log_level" env:"HERDWATCH_LOG_LEVEL"`
	Cameras    []CameraSpec            `yaml:"cameras"`
	Modes      map[string]ModeSettings `yaml:"modes"`
	Telegram   TelegramConfig          `yaml:"telegram"`
	MQTT       MQTTConfig              `yaml:"mqtt" envPrefix:"HERDWATCH_MQTT_"`
	Supervisor SupervisorConfig        `yaml:"supervisor" envPrefix:"HERDWATCH_SUPERVISOR_"`
	Archive    ArchiveConfig           `yaml:"archive" envPrefix:"HERDWATCH_ARCHIVE_"`
	Alerts     AlertsConfig            `yaml:"alerts"`
	Paths      PathsConfig             `yaml:"paths" envPrefix:"HERDWATCH_"`
}

// CameraSpec is loaded once per worker and never changes for its lifetime.
type CameraSpec struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	StreamURL       string  `yaml:"stream_url"`
	Mode            string  `yaml:"mode"`
	NotifyThreshold float64 `yaml:"notify_threshold"`
	PeakThreshold   float64 `yaml:"peak_detection_threshold"`
	SaveThreshold   float64 `yaml:"save_threshold"`
	Enabled         bool    `yaml:"enabled"`
	ShowLiveFeed    bool    `yaml:"show_live_feed"`
	TelegramBot     string  `yaml:"telegram_bot"`
	ModelPath       string  `yaml:"model_path"`
}

// ModeSettings holds thresholds and timing for one detection mode.
type ModeSettings struct {
	ModelPath                   string        `yaml:"model_path"`
	ModelURL                    string        `yaml:"model_url"`
	DetectorURL                 string        `yaml:"detector_url"`
	Classes                     []int         `yaml:"classes"`
	ModelConfidence             float64       `yaml:"model_confidence"`
	SaveThreshold               float64       `yaml:"save_threshold"`
	NotifyThreshold             float64       `yaml:"notify_threshold"`
	PeakThreshold               float64       `yaml:"peak_detection_threshold"`
	VeryHighConfidence          float64       `yaml:"very_high_confidence"`
	ProcessEveryNFrames         int           `yaml:"process_every_n_frames"`
	MinHighConfidenceDetections int           `yaml:"min_high_confidence_detections"`
	MaxScreenshots              int           `yaml:"max_screenshots"`
	SendAnnotatedImages         bool          `yaml:"send_annotated_images"`
	CollectionTime              time.Duration `yaml:"collection_time"`
	MinCollectionTime           time.Duration `yaml:"min_collection_time"`
	InactivityStopTime          time.Duration `yaml:"inactivity_stop_time"`
	CooldownPeriod              time.Duration `yaml:"cooldown_period"`
	SoundEveryNNotifications    int           `yaml:"sound_every_n_notifications"`
	SendStatusNotifications     bool          `yaml:"send_status_notifications"`
	EventLabel                  string        `yaml:"event_label"`
	FilePrefix                  string        `yaml:"file_prefix"`
	ManualCapture               ManualCapture `yaml:"manual_capture"`
}

// ManualCapture configures the command-triggered capture window.
type ManualCapture struct {
	Enabled        bool          `yaml:"enabled"`
	Duration       time.Duration `yaml:"duration"`
	SaveInterval   time.Duration `yaml:"save_interval"`
	NotifyInterval time.Duration `yaml:"notify_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	APIURL string         `yaml:"api_url"`
	Bots   []TelegramBot  `yaml:"bots"`
	Users  []TelegramUser `yaml:"users"`
}

type TelegramBot struct {
	Name    string `yaml:"name"`
	Token   string `yaml:"token"`
	Enabled bool   `yaml:"enabled"`
}

type TelegramUser struct {
	Name    string `yaml:"name"`
	ChatID  string `yaml:"chat_id"`
	Enabled bool   `yaml:"enabled"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker" env:"BROKER"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	User         string `yaml:"user" env:"USER"`
	Password     string `yaml:"password" env:"PASSWORD"`
	EventsTopic  string `yaml:"events_topic"`
	StatusTopic  string `yaml:"status_topic"`
	CommandTopic string `yaml:"command_topic"`
}

type SupervisorConfig struct {
	WorkerPath       string        `yaml:"worker_path" env:"WORKER_PATH"`
	WatchdogTimeout  time.Duration `yaml:"watchdog_timeout"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	HibernationTime  time.Duration `yaml:"hibernation_time"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	MetricsAddr      string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// AlertsConfig lists extra shoutrrr service URLs for watchdog alerts.
type AlertsConfig struct {
	URLs []string `yaml:"urls"`
}

type PathsConfig struct {
	DataDir    string `yaml:"data_dir" env:"DATA_DIR"`
	WeightsDir string `yaml:"weights_dir" env:"WEIGHTS_DIR"`
}

// WorkerSettings is the fully resolved view a worker runs with.
type WorkerSettings struct {
	Camera      CameraSpec
	Mode        ModeSettings
	BotName     string
	BotToken    string
	ChatIDs     []string
	TelegramAPI string
	MQTT        MQTTConfig
	Archive     ArchiveConfig
	Paths       PathsConfig
}

// EventSummary is published when an eligible detection event is dispatched.
type EventSummary struct {
	ID            string    `json:"id"`
	Camera        string    `json:"camera"`
	Mode          string    `json:"mode"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Samples       int       `json:"samples"`
	MaxConfidence float64   `json:"max_confidence"`
	StopReason    string    `json:"stop_reason"`
	Notification  int       `json:"notification"`
	Audible       bool      `json:"audible"`
	Photos        []string  `json:"photos"`
}

// CameraStatus is published on every supervisor state transition.
type CameraStatus struct {
	Camera    string    `json:"camera"`
	State     string    `json:"state"`
	Retries   int       `json:"retries"`
	AlertSent bool      `json:"alert_sent"`
	Timestamp time.Time `json:"timestamp"`
}

// CameraCommand is received on the supervisor command topic.
type CameraCommand struct {
	Camera string `json:"camera"`
	Action string `json:"action"` // "start" or "stop"
}
