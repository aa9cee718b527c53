package engine

import (
	"context"

	"herdwatch/internal/logger"
	"herdwatch/internal/models"
)

// MQTTPublisher is the subset of the MQTT client the engine needs.
type MQTTPublisher interface {
	Publish(topic string, payload interface{}) error
}

// EventArchiver stores the photos of a dispatched event off-host.
type EventArchiver interface {
	Enqueue(camera, path string) bool
}

type PublisherOption func(*EventPublisher)

// WithArchiver uploads every dispatched photo through a.
func WithArchiver(a EventArchiver) PublisherOption {
	return func(p *EventPublisher) {
		p.archiver = a
	}
}

// WithQueueSize overrides the ingest buffer size.
func WithQueueSize(n int) PublisherOption {
	return func(p *EventPublisher) {
		if n > 0 {
			p.ingestChan = make(chan models.EventSummary, n)
		}
	}
}

// EventPublisher is the EventSink that forwards dispatched event summaries
// to MQTT and the archive. EventDispatched never blocks the capture loop; a
// full buffer drops the summary.
type EventPublisher struct {
	mqttClient MQTTPublisher
	topic      string
	archiver   EventArchiver
	ingestChan chan models.EventSummary
	log        *logger.Entry
}

func NewEventPublisher(mqttClient MQTTPublisher, topic string, opts ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		mqttClient: mqttClient,
		topic:      topic,
		ingestChan: make(chan models.EventSummary, 100),
		log:        logger.Tagged("events"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EventPublisher) EventDispatched(summary models.EventSummary) {
	select {
	case p.ingestChan <- summary:
	default:
		p.log.Warnf("Event queue full, dropping summary for event %s", summary.ID)
	}
}

// Run publishes queued summaries until ctx is done, then flushes what is left.
func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case summary := <-p.ingestChan:
			p.handleEvent(summary)
		case <-ctx.Done():
			for {
				select {
				case summary := <-p.ingestChan:
					p.handleEvent(summary)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) handleEvent(summary models.EventSummary) {
	if p.mqttClient != nil && p.topic != "" {
		if err := p.mqttClient.Publish(p.topic, summary); err != nil {
			p.log.Errorf("Error publishing event %s: %v", summary.ID, err)
		} else {
			p.log.Infof("[MQTT] Published event %s (%s, %d photos)", summary.ID, summary.StopReason, len(summary.Photos))
		}
	}

	if p.archiver == nil {
		return
	}
	for _, path := range summary.Photos {
		if !p.archiver.Enqueue(summary.Camera, path) {
			p.log.Warnf("Archive queue full, skipping %s", path)
		}
	}
}
