package mqtt

import (
	"context"

	"herdwatch/internal/models"
)

// StatusPublisher is the subset of Client used to publish camera states.
type StatusPublisher interface {
	PublishStatus(models.CameraStatus) error
}

// StatusQueue decouples supervisor state changes from broker round trips.
// CameraStatusChanged never blocks; the oldest pending status is dropped
// when the queue is full.
type StatusQueue struct {
	client StatusPublisher
	queue  chan models.CameraStatus
}

func NewStatusQueue(client StatusPublisher, size int) *StatusQueue {
	if size < 1 {
		size = 64
	}
	return &StatusQueue{client: client, queue: make(chan models.CameraStatus, size)}
}

func (q *StatusQueue) CameraStatusChanged(st models.CameraStatus) {
	for {
		select {
		case q.queue <- st:
			return
		default:
		}
		select {
		case <-q.queue:
		default:
		}
	}
}

func (q *StatusQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-q.queue:
			if err := q.client.PublishStatus(st); err != nil {
				log.Warnf("Failed to publish status for %s: %v", st.Camera, err)
			}
		}
	}
}
