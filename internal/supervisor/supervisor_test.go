package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"herdwatch/internal/logger"
	"herdwatch/internal/metrics"
	"herdwatch/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcess struct {
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter
	done       chan struct{}
	once       sync.Once
	terminated atomic.Int32
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{done: make(chan struct{})}
	p.outR, p.outW = io.Pipe()
	p.errR, p.errW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdout() io.Reader     { return p.outR }
func (p *fakeProcess) Stderr() io.Reader     { return p.errR }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return -1 }

func (p *fakeProcess) Terminate(grace time.Duration) error {
	p.terminated.Add(1)
	p.exit()
	return nil
}

func (p *fakeProcess) exit() {
	p.once.Do(func() {
		p.outW.Close()
		p.errW.Close()
		close(p.done)
	})
}

// Println writes a line to the worker's stdout.
func (p *fakeProcess) Println(line string) {
	fmt.Fprintln(p.outW, line)
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched map[string][]*fakeProcess
	fail     bool
}

func (l *fakeLauncher) Launch(id string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, errors.New("exec: file not found")
	}
	if l.launched == nil {
		l.launched = map[string][]*fakeProcess{}
	}
	p := newFakeProcess()
	l.launched[id] = append(l.launched[id], p)
	return p, nil
}

func (l *fakeLauncher) count(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched[id])
}

func (l *fakeLauncher) latest(id string) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	procs := l.launched[id]
	return procs[len(procs)-1]
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *fakeAlerter) Alert(ctx context.Context, al Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type statusRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *statusRecorder) CameraStatusChanged(st models.CameraStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st.State)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	sup      *Supervisor
	launcher *fakeLauncher
	alerter  *fakeAlerter
	status   *statusRecorder
	clock    *testClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		launcher: &fakeLauncher{},
		alerter:  &fakeAlerter{},
		status:   &statusRecorder{},
		clock:    &testClock{t: time.Date(2025, 11, 24, 3, 0, 0, 0, time.UTC)},
	}
	base := []Option{
		WithAlerter(h.alerter),
		WithStatusSink(h.status),
		WithClock(h.clock.Now, func(time.Duration) {}),
		WithCameraNames(map[string]string{"barn1": "Barn One"}),
	}
	h.sup = New(h.launcher, append(base, opts...)...)
	t.Cleanup(h.sup.StopAll)
	return h
}

// miss advances past the watchdog timeout and runs one watchdog pass.
func (h *harness) miss() {
	h.sup.tick(h.clock.Advance(DefaultWatchdogTimeout + time.Second))
	h.sup.transitions.Wait()
}

func (h *harness) record(t *testing.T) ProcessRecord {
	t.Helper()
	rec, ok := h.sup.Record("barn1")
	require.True(t, ok)
	return rec
}

func TestStart_Idempotent(t *testing.T) {
	h := newHarness(t)

	h.sup.Start("barn1")
	h.sup.Start("barn1")

	assert.Equal(t, 1, h.launcher.count("barn1"))
	rec := h.record(t)
	assert.Equal(t, Running, rec.State)
	assert.Equal(t, h.clock.Now(), rec.LastHeartbeat)
}

func TestWatchdog_NoRestartWithinTimeout(t *testing.T) {
	h := newHarness(t)
	h.sup.Start("barn1")

	h.sup.tick(h.clock.Advance(DefaultWatchdogTimeout))
	h.sup.transitions.Wait()

	assert.Equal(t, 1, h.launcher.count("barn1"))
	assert.Equal(t, Running, h.record(t).State)
}

func TestWatchdog_OneRestartPerMissedInterval(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t)
	h.sup.sleep = func(time.Duration) { <-release }
	h.sup.Start("barn1")
	first := h.launcher.latest("barn1")

	h.sup.tick(h.clock.Advance(DefaultWatchdogTimeout + time.Second))
	require.Eventually(t, func() bool { return first.terminated.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Restarting, h.record(t).State)

	// Further passes while the restart is in flight do nothing.
	h.sup.tick(h.clock.Advance(DefaultWatchdogInterval))
	h.sup.tick(h.clock.Advance(DefaultWatchdogInterval))

	close(release)
	h.sup.transitions.Wait()

	rec := h.record(t)
	assert.Equal(t, Running, rec.State)
	assert.Equal(t, 1, rec.Retries)
	assert.Equal(t, 2, h.launcher.count("barn1"))

	// The relaunch restarts the timeout window.
	h.sup.tick(h.clock.Advance(DefaultWatchdogInterval))
	h.sup.transitions.Wait()
	assert.Equal(t, 2, h.launcher.count("barn1"))

	h.miss()
	assert.Equal(t, 2, h.record(t).Retries)
	assert.Equal(t, 3, h.launcher.count("barn1"))
}

func TestWatchdog_ExhaustionHibernatesWithSingleAlert(t *testing.T) {
	h := newHarness(t)
	h.sup.Start("barn1")

	for i := 1; i <= DefaultMaxRetries; i++ {
		h.miss()
		require.Equal(t, i, h.record(t).Retries)
	}
	require.Equal(t, 0, h.alerter.count())

	h.miss()
	rec := h.record(t)
	assert.Equal(t, Hibernating, rec.State)
	assert.True(t, rec.Hibernating())
	assert.True(t, rec.AlertSent)
	assert.Equal(t, DefaultMaxRetries, rec.Retries)
	assert.Equal(t, 1, h.alerter.count())
	assert.Equal(t, "Barn One", h.alerter.alerts[0].CameraName)
	assert.Equal(t, int32(1), h.launcher.latest("barn1").terminated.Load())
	launches := h.launcher.count("barn1")

	// Nothing happens while hibernating.
	h.sup.tick(h.clock.Advance(DefaultHibernationTime - 2*time.Minute))
	h.sup.transitions.Wait()
	assert.Equal(t, launches, h.launcher.count("barn1"))
	assert.Equal(t, Hibernating, h.record(t).State)

	// Expiry brings exactly one restart with retries reset; the alert flag stays.
	h.sup.tick(h.clock.Advance(3 * time.Minute))
	h.sup.transitions.Wait()
	h.sup.tick(h.clock.Advance(DefaultWatchdogInterval))
	h.sup.transitions.Wait()

	rec = h.record(t)
	assert.Equal(t, Running, rec.State)
	assert.Equal(t, 0, rec.Retries)
	assert.True(t, rec.AlertSent)
	assert.True(t, rec.HibernationStart.IsZero())
	assert.Equal(t, launches+1, h.launcher.count("barn1"))

	// A second failure episode without a heartbeat stays silent.
	for i := 0; i <= DefaultMaxRetries; i++ {
		h.miss()
	}
	assert.Equal(t, Hibernating, h.record(t).State)
	assert.Equal(t, 1, h.alerter.count())
}

func TestHeartbeat_ResetsRetriesAndAlert(t *testing.T) {
	out := &syncBuffer{}
	logger.SetOutput(out)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	h := newHarness(t)
	h.sup.Start("barn1")
	for i := 0; i <= DefaultMaxRetries; i++ {
		h.miss()
	}
	require.True(t, h.record(t).AlertSent)

	h.sup.tick(h.clock.Advance(DefaultHibernationTime + time.Second))
	h.sup.transitions.Wait()
	h.miss()
	require.Equal(t, 1, h.record(t).Retries)

	proc := h.launcher.latest("barn1")
	proc.Println("Opening camera stream...")
	require.Eventually(t, func() bool {
		rec := h.record(t)
		return rec.Retries == 0 && !rec.AlertSent
	}, time.Second, time.Millisecond)

	proc.Println("Frames processed: 100 | Queue: 0 | Sent: 2 | Failed: 0")
	proc.Println("some other line")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "some other line")
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, strings.Count(out.String(), "stable again"))
	assert.Contains(t, out.String(), "[INFO] [barn1/stdout] some other line")

	// A fresh failure episode alerts again.
	for i := 0; i <= DefaultMaxRetries; i++ {
		h.miss()
	}
	assert.Equal(t, 2, h.alerter.count())
}

func TestHeartbeat_StaleGenerationIgnored(t *testing.T) {
	h := newHarness(t)
	h.sup.Start("barn1")
	h.miss()
	h.miss()
	require.Equal(t, 2, h.record(t).Retries)

	h.sup.observeHeartbeat("barn1", 1)
	assert.Equal(t, 2, h.record(t).Retries)
}

func TestHeartbeat_UpdatesLastSeen(t *testing.T) {
	h := newHarness(t)
	h.sup.Start("barn1")

	seen := h.clock.Advance(50 * time.Second)
	h.launcher.latest("barn1").Println("Frames processed: 200 | Queue: 1 | Sent: 3 | Failed: 0")
	require.Eventually(t, func() bool { return h.record(t).LastHeartbeat.Equal(seen) }, time.Second, time.Millisecond)

	h.sup.tick(h.clock.Advance(30 * time.Second))
	h.sup.transitions.Wait()
	assert.Equal(t, 1, h.launcher.count("barn1"), "heartbeat kept the worker alive")
}

func TestStop_PreservesHibernationAndAlert(t *testing.T) {
	h := newHarness(t)
	h.sup.Start("barn1")
	for i := 0; i <= DefaultMaxRetries; i++ {
		h.miss()
	}
	hibernatedAt := h.record(t).HibernationStart

	h.sup.Stop("barn1")
	rec := h.record(t)
	assert.Equal(t, Stopped, rec.State)
	assert.True(t, rec.AlertSent)
	assert.Equal(t, hibernatedAt, rec.HibernationStart)
	assert.Equal(t, 0, rec.Retries)

	launches := h.launcher.count("barn1")
	h.sup.tick(h.clock.Advance(2 * DefaultHibernationTime))
	h.sup.transitions.Wait()
	assert.Equal(t, launches, h.launcher.count("barn1"), "stopped cameras are not woken")
}

func TestStop_DuringRestart(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t)
	h.sup.sleep = func(time.Duration) { <-release }
	h.sup.Start("barn1")

	h.sup.tick(h.clock.Advance(DefaultWatchdogTimeout + time.Second))
	require.Eventually(t, func() bool { return h.launcher.latest("barn1").terminated.Load() == 1 }, time.Second, time.Millisecond)

	h.sup.Stop("barn1")
	close(release)
	h.sup.transitions.Wait()

	assert.Equal(t, Stopped, h.record(t).State)
	assert.Equal(t, 1, h.launcher.count("barn1"))
}

func TestLaunchFailure_Escalates(t *testing.T) {
	h := newHarness(t)
	h.launcher.fail = true

	h.sup.Start("barn1")
	assert.Equal(t, Running, h.record(t).State)

	for i := 0; i <= DefaultMaxRetries; i++ {
		h.miss()
	}
	assert.Equal(t, Hibernating, h.record(t).State)
	assert.Equal(t, 1, h.alerter.count())
}

func TestStatusAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metrics.NewSupervisorMetrics(registry)
	require.NoError(t, err)

	h := newHarness(t, WithRecorder(m), WithPolicy(models.SupervisorConfig{MaxRetries: 1}))
	h.sup.Start("barn1")
	h.miss()
	h.miss()

	assert.Equal(t, []string{"running", "restarting", "restarting", "running", "restarting", "hibernating"}, h.status.states)
	assert.Equal(t, 1, h.alerter.count())

	problems, err := testutil.GatherAndLint(registry)
	require.NoError(t, err)
	assert.Empty(t, problems)

	count, err := testutil.GatherAndCount(registry, "herdwatch_worker_restarts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStopAll(t *testing.T) {
	h := newHarness(t)
	h.sup.Start("barn1")
	h.sup.Start("barn2")

	h.sup.StopAll()

	for id, st := range h.sup.States() {
		assert.Equal(t, Stopped, st, id)
	}
	assert.Equal(t, int32(1), h.launcher.latest("barn1").terminated.Load())
	assert.Equal(t, int32(1), h.launcher.latest("barn2").terminated.Load())
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, WithPolicy(models.SupervisorConfig{WatchdogInterval: time.Millisecond}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	h.sup.Run(ctx)
}

func TestExecLauncher(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script worker")
	}
	script := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+
		"echo \"Opening camera stream for $1...\"\n"+
		"echo \"warming up\" 1>&2\n"+
		"exec sleep 30\n"), 0o755))

	proc, err := ExecLauncher{Path: script}.Launch("barn1")
	require.NoError(t, err)

	lines := make(chan string, 2)
	go func() {
		buf := make([]byte, 256)
		n, _ := proc.Stdout().Read(buf)
		lines <- string(buf[:n])
	}()
	go func() {
		_, _ = io.Copy(io.Discard, proc.Stderr())
	}()

	select {
	case l := <-lines:
		assert.Contains(t, l, "Opening camera stream for barn1")
	case <-time.After(5 * time.Second):
		t.Fatal("no output from worker")
	}

	go func() {
		_, _ = io.Copy(io.Discard, proc.Stdout())
	}()
	require.NoError(t, proc.Terminate(time.Second))
	<-proc.Done()
	assert.NotEqual(t, 0, proc.ExitCode())
}

func TestExecLauncher_MissingBinary(t *testing.T) {
	_, err := ExecLauncher{Path: "/nonexistent/herdwatch-worker"}.Launch("barn1")
	assert.Error(t, err)
}
