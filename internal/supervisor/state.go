package supervisor

import "time"

// State is the lifecycle state of one camera worker.
type State int

const (
	Stopped State = iota
	Running
	Restarting
	Hibernating
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Hibernating:
		return "hibernating"
	}
	return "unknown"
}

// ProcessRecord is the supervisor's bookkeeping for one camera.
type ProcessRecord struct {
	CameraID         string
	State            State
	LastHeartbeat    time.Time
	Retries          int
	HibernationStart time.Time // zero while not hibernating
	AlertSent        bool

	proc Process
	// gen identifies the current process; output from older processes is
	// forwarded but never counts as a heartbeat.
	gen uint64
}

// Hibernating reports whether the record has a hibernation timer running.
func (r *ProcessRecord) Hibernating() bool {
	return r.State == Hibernating && !r.HibernationStart.IsZero()
}
