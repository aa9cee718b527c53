package command

import (
	"context"
	"strings"
	"time"

	"herdwatch/internal/logger"
	"herdwatch/internal/telegram"
)

const (
	DefaultPollTimeout  = 5 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// UpdateSource is the polling half of the Telegram client.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Replier acknowledges commands. Optional.
type Replier interface {
	EnqueueText(text string, silent bool)
}

type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionClose
)

// Parse maps a chat message to an action. Matching is case-insensitive and
// on substrings, so "Check barn" opens the window.
func Parse(text string) Action {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "stop"):
		return ActionClose
	case strings.Contains(t, "start"), strings.Contains(t, "check"):
		return ActionOpen
	}
	return ActionNone
}

type ListenerOption func(*Listener)

func WithReplier(r Replier) ListenerOption {
	return func(l *Listener) { l.replier = r }
}

func WithPollInterval(d time.Duration) ListenerOption {
	return func(l *Listener) { l.interval = d }
}

func WithClock(now func() time.Time) ListenerOption {
	return func(l *Listener) { l.now = now }
}

// Listener polls for chat commands and drives a ManualWindow.
type Listener struct {
	source   UpdateSource
	window   *ManualWindow
	replier  Replier
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *logger.Entry

	lastID int64
}

func NewListener(source UpdateSource, window *ManualWindow, opts ...ListenerOption) *Listener {
	l := &Listener{
		source:   source,
		window:   window,
		interval: DefaultPollInterval,
		timeout:  DefaultPollTimeout,
		now:      time.Now,
		log:      logger.Tagged("commands"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LastID is the highest update id consumed so far.
func (l *Listener) LastID() int64 { return l.lastID }

// Poll fetches one batch of updates and applies them.
func (l *Listener) Poll(ctx context.Context) error {
	updates, err := l.source.GetUpdates(ctx, l.lastID+1, l.timeout)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if u.UpdateID <= l.lastID {
			continue
		}
		l.lastID = u.UpdateID
		if u.Message == nil {
			continue
		}
		l.apply(Parse(u.Message.Text))
	}
	return nil
}

func (l *Listener) apply(a Action) {
	switch a {
	case ActionOpen:
		expiry := l.window.Open(l.now())
		l.log.Infof("Manual capture active until %s", expiry.Format("15:04:05"))
		if l.replier != nil {
			l.replier.EnqueueText("Manual capture active until "+expiry.Format("15:04"), true)
		}
	case ActionClose:
		l.window.Close()
		l.log.Infof("Manual capture stopped")
		if l.replier != nil {
			l.replier.EnqueueText("Manual capture stopped", true)
		}
	}
}

// Run polls until ctx is done. Errors are logged and retried after the poll
// interval.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.Poll(ctx); err != nil && ctx.Err() == nil {
			l.log.Warnf("Polling for commands failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.interval):
		}
	}
}
