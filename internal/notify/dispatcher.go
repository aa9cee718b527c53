// Package notify delivers photo and text notifications to every configured
// recipient from a single background consumer.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"herdwatch/internal/logger"
)

const (
	PhotoTimeout = 30 * time.Second
	TextTimeout  = 10 * time.Second
)

type Kind int

const (
	KindPhoto Kind = iota
	KindText
	kindStop
)

// Task is one queued delivery. A task is delivered to all recipients.
type Task struct {
	Kind    Kind
	Path    string
	Caption string
	Text    string
	Silent  bool
}

// Sender performs a single delivery to one chat.
type Sender interface {
	SendPhoto(ctx context.Context, chatID, path, caption string, silent bool) error
	SendMessage(ctx context.Context, chatID, text string, silent bool) error
}

type DispatcherOption func(*Dispatcher)

// WithTimeouts overrides the per-recipient delivery timeouts.
func WithTimeouts(photo, text time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.photoTimeout = photo
		d.textTimeout = text
	}
}

// Dispatcher is an unbounded FIFO drained by Run. Enqueue never blocks the
// producer.
type Dispatcher struct {
	sender       Sender
	recipients   []string
	photoTimeout time.Duration
	textTimeout  time.Duration
	log          *logger.Entry

	mu     sync.Mutex
	queue  []Task
	closed bool
	wake   chan struct{}
	done   chan struct{}

	sent   atomic.Int64
	failed atomic.Int64
	warned atomic.Bool
}

func NewDispatcher(sender Sender, recipients []string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:       sender,
		recipients:   append([]string(nil), recipients...),
		photoTimeout: PhotoTimeout,
		textTimeout:  TextTimeout,
		log:          logger.Tagged("notify"),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) EnqueuePhoto(path, caption string, silent bool) {
	d.enqueue(Task{Kind: KindPhoto, Path: path, Caption: caption, Silent: silent})
}

func (d *Dispatcher) EnqueueText(text string, silent bool) {
	d.enqueue(Task{Kind: KindText, Text: text, Silent: silent})
}

func (d *Dispatcher) enqueue(t Task) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warnf("Dispatcher closed, dropping task")
		return
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close queues the stop marker. Tasks queued before it are still delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = append(d.queue, Task{Kind: kindStop})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of queued tasks, excluding the stop marker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.queue {
		if t.Kind != kindStop {
			n++
		}
	}
	return n
}

// Stats returns delivered and failed task counts.
func (d *Dispatcher) Stats() (sent, failed int64) {
	return d.sent.Load(), d.failed.Load()
}

func (d *Dispatcher) next() (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Task{}, false
	}
	t := d.queue[0]
	d.queue[0] = Task{}
	d.queue = d.queue[1:]
	return t, true
}

// Run is the single consumer. It returns after the stop marker is taken or
// ctx is done; on ctx cancellation pending tasks are abandoned.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		t, ok := d.next()
		if !ok {
			select {
			case <-d.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if t.Kind == kindStop {
			return
		}
		if d.Deliver(ctx, t) {
			d.sent.Add(1)
		} else {
			d.failed.Add(1)
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// Shutdown closes the queue and waits for the consumer to drain it, up to ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.Close()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver sends t to every recipient and reports whether at least one
// delivery succeeded. Failures are logged, never retried.
func (d *Dispatcher) Deliver(ctx context.Context, t Task) bool {
	if len(d.recipients) == 0 {
		if d.warned.CompareAndSwap(false, true) {
			d.log.Warnf("No recipients configured, notifications are discarded")
		}
		return false
	}

	ok := false
	for _, chatID := range d.recipients {
		var err error
		switch t.Kind {
		case KindPhoto:
			sctx, cancel := context.WithTimeout(ctx, d.photoTimeout)
			err = d.sender.SendPhoto(sctx, chatID, t.Path, t.Caption, t.Silent)
			cancel()
		case KindText:
			sctx, cancel := context.WithTimeout(ctx, d.textTimeout)
			err = d.sender.SendMessage(sctx, chatID, t.Text, t.Silent)
			cancel()
		}
		if err != nil {
			d.log.Errorf("Delivery to %s failed: %v", chatID, err)
			continue
		}
		ok = true
	}
	return ok
}
