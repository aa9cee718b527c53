package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"herdwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAlertHTML(t *testing.T) {
	msg := FormatAlertHTML(Alert{CameraID: "barn1", CameraName: "Barn <1>", Retries: 5, RetryIn: time.Hour})

	assert.Contains(t, msg, "<b>WATCHDOG ALARM</b>")
	assert.Contains(t, msg, "Camera: <b>Barn &lt;1&gt;</b>")
	assert.Contains(t, msg, "made 5 restart attempts")
	assert.Contains(t, msg, "<b>1 hour</b>")
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "2 hours", humanDuration(2*time.Hour))
	assert.Equal(t, "90 minutes", humanDuration(90*time.Minute))
	assert.Equal(t, "45s", humanDuration(45*time.Second))
}

type htmlRecorder struct {
	token string
	sent  map[string]string
	fail  map[string]bool
}

func (r *htmlRecorder) SendHTML(ctx context.Context, chatID, text string) error {
	if r.fail[chatID] {
		return errors.New("chat not found")
	}
	r.sent[chatID] = text
	return nil
}

func alertConfig() *models.Config {
	return &models.Config{
		Cameras: []models.CameraSpec{{ID: "barn1", Name: "Barn One", TelegramBot: "night"}},
		Telegram: models.TelegramConfig{
			Bots: []models.TelegramBot{
				{Name: "day", Token: "DAY", Enabled: true},
				{Name: "night", Token: "NIGHT", Enabled: true},
			},
			Users: []models.TelegramUser{
				{Name: "a", ChatID: "1", Enabled: true},
				{Name: "b", ChatID: "2", Enabled: true},
				{Name: "c", ChatID: "3", Enabled: false},
			},
		},
	}
}

func TestTelegramAlerter(t *testing.T) {
	rec := &htmlRecorder{sent: map[string]string{}, fail: map[string]bool{"2": true}}
	a := NewTelegramAlerter(alertConfig())
	a.newSender = func(token string) HTMLSender {
		rec.token = token
		return rec
	}

	require.NoError(t, a.Alert(context.Background(), Alert{CameraID: "barn1", CameraName: "Barn One", Retries: 5, RetryIn: time.Hour}))
	assert.Equal(t, "NIGHT", rec.token, "uses the camera's own bot")
	assert.Len(t, rec.sent, 1)
	assert.Contains(t, rec.sent["1"], "Barn One")

	rec.fail["1"] = true
	assert.Error(t, a.Alert(context.Background(), Alert{CameraID: "barn1"}))

	assert.Error(t, a.Alert(context.Background(), Alert{CameraID: "unknown"}))
}

func TestShoutrrrAlerter(t *testing.T) {
	_, err := NewShoutrrrAlerter(nil)
	assert.Error(t, err)

	_, err = NewShoutrrrAlerter([]string{"not-a-service://x"})
	assert.Error(t, err)

	a, err := NewShoutrrrAlerter([]string{"logger://"})
	require.NoError(t, err)
	assert.NoError(t, a.Alert(context.Background(), Alert{CameraID: "barn1", CameraName: "Barn One", Retries: 5, RetryIn: time.Hour}))
}

func TestShoutrrrAlerter_HonoursContext(t *testing.T) {
	a, err := NewShoutrrrAlerter([]string{"logger://"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Alert(ctx, Alert{CameraID: "barn1"}), context.Canceled)
}

type errAlerter struct{ err error }

func (e errAlerter) Alert(context.Context, Alert) error { return e.err }

func TestMultiAlerter(t *testing.T) {
	boom := errors.New("boom")

	assert.NoError(t, MultiAlerter{errAlerter{boom}, errAlerter{nil}}.Alert(context.Background(), Alert{}))
	assert.ErrorIs(t, MultiAlerter{errAlerter{boom}, errAlerter{boom}}.Alert(context.Background(), Alert{}), boom)
	assert.NoError(t, MultiAlerter{}.Alert(context.Background(), Alert{}))
}
