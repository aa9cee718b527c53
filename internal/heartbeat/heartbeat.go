// Package heartbeat defines the log-line markers a worker prints to signal
// liveness and the classifier the supervisor uses to recognise them.
package heartbeat

import "strings"

const (
	// FramesProcessed prefixes the periodic frame counter line.
	FramesProcessed = "Frames processed"
	// StreamOpening is printed once when the worker opens its stream.
	StreamOpening = "Opening camera stream"
)

var markers = []string{FramesProcessed, StreamOpening}

// IsHeartbeat reports whether a worker output line carries a liveness marker.
func IsHeartbeat(line string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
