package supervisor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"slices"
	"time"

	"herdwatch/internal/config"
	"herdwatch/internal/models"
	"herdwatch/internal/telegram"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

const alertTimeout = 10 * time.Second

// Alert describes a camera that exhausted its restarts.
type Alert struct {
	CameraID   string
	CameraName string
	Retries    int
	RetryIn    time.Duration
}

// Alerter delivers operator alerts.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// FormatAlertHTML renders the watchdog alert for HTML-capable chats.
func FormatAlertHTML(a Alert) string {
	return fmt.Sprintf("🚨 <b>WATCHDOG ALARM</b> 🚨\n\n"+
		"Camera: <b>%s</b>\n"+
		"Status: 🛑 <b>STOPPED (hibernating)</b>\n\n"+
		"The watchdog made %d restart attempts without success.\n"+
		"The system retries automatically in <b>%s</b>.\n"+
		"No further alerts are sent unless it recovers.",
		html.EscapeString(a.CameraName), a.Retries, humanDuration(a.RetryIn))
}

// FormatAlertText is the plain-text variant for other services.
func FormatAlertText(a Alert) string {
	return fmt.Sprintf("WATCHDOG ALARM: camera %s stopped after %d restart attempts, retrying in %s.",
		a.CameraName, a.Retries, humanDuration(a.RetryIn))
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
	return d.String()
}

// HTMLSender is the part of the Telegram client used for alerts.
type HTMLSender interface {
	SendHTML(ctx context.Context, chatID, text string) error
}

// TelegramAlerter sends the alert with the camera's own bot to every enabled
// user.
type TelegramAlerter struct {
	cfg       *models.Config
	newSender func(token string) HTMLSender
}

func NewTelegramAlerter(cfg *models.Config) *TelegramAlerter {
	return &TelegramAlerter{
		cfg: cfg,
		newSender: func(token string) HTMLSender {
			return telegram.NewClient(token, telegram.WithBaseURL(cfg.Telegram.APIURL))
		},
	}
}

func (t *TelegramAlerter) Alert(ctx context.Context, a Alert) error {
	cam, err := config.CameraByID(t.cfg, a.CameraID)
	if err != nil {
		return err
	}
	_, token, ok := config.BotToken(t.cfg, cam.TelegramBot)
	if !ok {
		return fmt.Errorf("no enabled bot for camera %s", a.CameraID)
	}
	chats := config.ChatIDs(t.cfg)
	if len(chats) == 0 {
		return fmt.Errorf("no enabled recipients")
	}

	sender := t.newSender(token)
	text := FormatAlertHTML(a)
	var errs []error
	for _, chat := range chats {
		sctx, cancel := context.WithTimeout(ctx, alertTimeout)
		if err := sender.SendHTML(sctx, chat, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chat, err))
		}
		cancel()
	}
	if len(errs) == len(chats) {
		return errors.Join(errs...)
	}
	return nil
}

// ShoutrrrAlerter fans the alert out to shoutrrr service URLs.
type ShoutrrrAlerter struct {
	sender *router.ServiceRouter
}

func NewShoutrrrAlerter(urls []string) (*ShoutrrrAlerter, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		return nil, fmt.Errorf("invalid alert URL: %w", err)
	}
	sender.Timeout = alertTimeout
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrAlerter{sender: sender}, nil
}

// Alert returns when every service has answered or ctx is done, whichever
// comes first. The router's own timeout bounds the send either way.
func (s *ShoutrrrAlerter) Alert(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	params.SetTitle("Herdwatch watchdog")

	done := make(chan []error, 1)
	go func() {
		done <- s.sender.Send(FormatAlertText(a), &params)
	}()
	select {
	case errs := <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MultiAlerter succeeds when any of its alerters does.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(m) > 0 && len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}
