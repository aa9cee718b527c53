// Package supervisor keeps one worker process per camera alive. A watchdog
// restarts silent workers, puts a camera into hibernation once its restarts
// are exhausted and sends a single alert per failure episode.
package supervisor

import (
	"bufio"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"herdwatch/internal/heartbeat"
	"herdwatch/internal/logger"
	"herdwatch/internal/models"
)

const (
	DefaultWatchdogTimeout  = 60 * time.Second
	DefaultWatchdogInterval = 5 * time.Second
	DefaultMaxRetries       = 5
	DefaultHibernationTime  = time.Hour
	DefaultRestartDelay     = 2 * time.Second

	stopGrace    = 5 * time.Second
	restartGrace = 2 * time.Second
	maxLineSize  = 1 << 20
)

// StatusSink is told about every state change. It must not block.
type StatusSink interface {
	CameraStatusChanged(models.CameraStatus)
}

// Recorder receives supervisor metrics.
type Recorder interface {
	RecordRestart(camera string)
	RecordHibernation(camera string)
	RecordAlert(camera string, err error)
	RecordHeartbeat(camera string)
	RecordLine(camera, stream string)
	SetState(camera, state string, retries int)
}

type Option func(*Supervisor)

// WithPolicy overrides the watchdog timings. Zero values keep the defaults.
func WithPolicy(cfg models.SupervisorConfig) Option {
	return func(s *Supervisor) {
		if cfg.WatchdogTimeout > 0 {
			s.timeout = cfg.WatchdogTimeout
		}
		if cfg.WatchdogInterval > 0 {
			s.interval = cfg.WatchdogInterval
		}
		if cfg.MaxRetries > 0 {
			s.maxRetries = cfg.MaxRetries
		}
		if cfg.HibernationTime > 0 {
			s.hibernation = cfg.HibernationTime
		}
		if cfg.RestartDelay > 0 {
			s.restartDelay = cfg.RestartDelay
		}
	}
}

func WithAlerter(a Alerter) Option {
	return func(s *Supervisor) { s.alerter = a }
}

func WithStatusSink(sink StatusSink) Option {
	return func(s *Supervisor) { s.status = sink }
}

func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) { s.metrics = r }
}

// WithCameraNames supplies display names used in alerts.
func WithCameraNames(names map[string]string) Option {
	return func(s *Supervisor) {
		for id, name := range names {
			s.names[id] = name
		}
	}
}

// WithClock replaces time.Now and time.Sleep, for tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(s *Supervisor) {
		s.now = now
		s.sleep = sleep
	}
}

type Supervisor struct {
	launcher     Launcher
	alerter      Alerter
	status       StatusSink
	metrics      Recorder
	names        map[string]string
	timeout      time.Duration
	interval     time.Duration
	maxRetries   int
	hibernation  time.Duration
	restartDelay time.Duration
	now          func() time.Time
	sleep        func(time.Duration)
	log          *logger.Entry

	mu      sync.Mutex
	records map[string]*ProcessRecord

	transitions sync.WaitGroup
	readers     sync.WaitGroup
}

func New(launcher Launcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher:     launcher,
		names:        map[string]string{},
		timeout:      DefaultWatchdogTimeout,
		interval:     DefaultWatchdogInterval,
		maxRetries:   DefaultMaxRetries,
		hibernation:  DefaultHibernationTime,
		restartDelay: DefaultRestartDelay,
		now:          time.Now,
		sleep:        time.Sleep,
		log:          logger.Tagged("supervisor"),
		records:      map[string]*ProcessRecord{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker for cameraID unless it is already running. A
// hibernating camera is woken up.
func (s *Supervisor) Start(cameraID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[cameraID]
	if !ok {
		rec = &ProcessRecord{CameraID: cameraID}
		s.records[cameraID] = rec
	}
	if rec.State == Running || rec.State == Restarting {
		return
	}
	rec.HibernationStart = time.Time{}
	s.launchLocked(rec)
}

// launchLocked spawns a new process for rec and marks it Running. A failed
// launch still counts as Running so the watchdog escalates it.
func (s *Supervisor) launchLocked(rec *ProcessRecord) {
	rec.State = Running
	rec.LastHeartbeat = s.now()
	rec.gen++
	rec.proc = nil

	log := logger.Tagged(rec.CameraID)
	proc, err := s.launcher.Launch(rec.CameraID)
	if err != nil {
		log.Errorf("Failed to start worker: %v", err)
	} else {
		rec.proc = proc
		s.readers.Add(2)
		go s.readOutput(rec.CameraID, rec.gen, "stdout", proc.Stdout(), proc)
		go s.readOutput(rec.CameraID, rec.gen, "stderr", proc.Stderr(), nil)
		log.Infof("Worker started (attempt %d/%d)", rec.Retries, s.maxRetries)
	}
	s.changedLocked(rec)
}

// Stop terminates the worker and drops its heartbeat and retry tracking.
// Hibernation and alert state are kept.
func (s *Supervisor) Stop(cameraID string) {
	s.mu.Lock()
	rec, ok := s.records[cameraID]
	if !ok || rec.State == Stopped {
		s.mu.Unlock()
		return
	}
	proc := rec.proc
	rec.proc = nil
	rec.gen++
	rec.State = Stopped
	rec.LastHeartbeat = time.Time{}
	rec.Retries = 0
	s.changedLocked(rec)
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Terminate(stopGrace); err != nil {
			s.log.Warnf("Stopping %s: %v", cameraID, err)
		}
		logger.Tagged(cameraID).Infof("Worker stopped")
	}
}

// StopAll stops every camera and waits for pending transitions and output
// readers to finish.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		s.Stop(id)
	}
	s.transitions.Wait()
	s.readers.Wait()
}

// Run drives the watchdog until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Infof("Watchdog started (timeout %s, interval %s, max retries %d)", s.timeout, s.interval, s.maxRetries)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

// tick runs one watchdog pass. It only flags transitions; terminating and
// relaunching happen on their own goroutines.
func (s *Supervisor) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.records {
		switch rec.State {
		case Running:
			silent := now.Sub(rec.LastHeartbeat)
			if silent <= s.timeout {
				continue
			}
			logger.Tagged(id).Warnf("Watchdog timeout! %ds without activity", int(silent.Seconds()))
			rec.State = Restarting
			s.changedLocked(rec)
			s.transitions.Add(1)
			go s.restart(id)

		case Hibernating:
			if now.Sub(rec.HibernationStart) <= s.hibernation {
				continue
			}
			logger.Tagged(id).Infof("Hibernation over, trying to start again")
			rec.HibernationStart = time.Time{}
			rec.Retries = 0
			rec.State = Restarting
			s.changedLocked(rec)
			s.transitions.Add(1)
			go s.wake(id)
		}
	}
}

// restart handles a Restarting record: relaunch, or hibernate once retries
// are exhausted.
func (s *Supervisor) restart(id string) {
	defer s.transitions.Done()
	log := logger.Tagged(id)

	s.mu.Lock()
	rec := s.records[id]
	if rec == nil || rec.State != Restarting {
		s.mu.Unlock()
		return
	}
	proc := rec.proc
	rec.proc = nil
	rec.gen++

	if rec.Retries >= s.maxRetries {
		sendAlert := !rec.AlertSent
		rec.AlertSent = true
		rec.State = Hibernating
		rec.HibernationStart = s.now()
		alert := Alert{CameraID: id, CameraName: s.nameLocked(id), Retries: rec.Retries, RetryIn: s.hibernation}
		s.changedLocked(rec)
		s.mu.Unlock()

		log.Errorf("WATCHDOG: limit (%dx) reached, hibernating for %s", s.maxRetries, s.hibernation)
		if s.metrics != nil {
			s.metrics.RecordHibernation(id)
		}
		if sendAlert {
			s.sendAlert(alert)
		} else {
			log.Infof("No new alert sent (already reported)")
		}
		if proc != nil {
			_ = proc.Terminate(stopGrace)
		}
		return
	}

	rec.Retries++
	log.Warnf("WATCHDOG: no response, restarting (attempt %d)", rec.Retries)
	s.changedLocked(rec)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRestart(id)
	}
	if proc != nil {
		_ = proc.Terminate(restartGrace)
	}
	s.sleep(s.restartDelay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.State != Restarting {
		return
	}
	s.launchLocked(rec)
}

// wake relaunches a camera whose hibernation expired.
func (s *Supervisor) wake(id string) {
	defer s.transitions.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	if rec == nil || rec.State != Restarting {
		return
	}
	s.launchLocked(rec)
}

func (s *Supervisor) sendAlert(a Alert) {
	if s.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*alertTimeout)
	defer cancel()

	err := s.alerter.Alert(ctx, a)
	if s.metrics != nil {
		s.metrics.RecordAlert(a.CameraID, err)
	}
	if err != nil {
		logger.Tagged(a.CameraID).Errorf("Watchdog alert failed: %v", err)
		return
	}
	logger.Tagged(a.CameraID).Noticef("Watchdog alert sent")
}

// readOutput forwards worker output to the log and turns marker lines into
// heartbeats. The stdout reader also reports the exit code.
func (s *Supervisor) readOutput(id string, gen uint64, stream string, r io.Reader, proc Process) {
	defer s.readers.Done()
	log := logger.Tagged(id).Tagged(stream)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if s.metrics != nil {
			s.metrics.RecordLine(id, stream)
		}
		if heartbeat.IsHeartbeat(line) {
			log.Debugf("%s", line)
			s.observeHeartbeat(id, gen)
			continue
		}
		if stream == "stderr" {
			log.Warnf("%s", line)
		} else {
			log.Infof("%s", line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("Output reader stopped: %v", err)
		if closer, ok := r.(io.Closer); ok {
			closer.Close()
		}
	}

	if proc != nil {
		<-proc.Done()
		logger.Tagged(id).Infof("Worker exited with code %d", proc.ExitCode())
	}
}

func (s *Supervisor) observeHeartbeat(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[id]
	if rec == nil || rec.gen != gen || rec.State != Running {
		return
	}
	rec.LastHeartbeat = s.now()
	if s.metrics != nil {
		s.metrics.RecordHeartbeat(id)
	}

	changed := false
	if rec.Retries > 0 {
		rec.Retries = 0
		changed = true
	}
	if rec.AlertSent {
		rec.AlertSent = false
		changed = true
		logger.Tagged(id).Noticef("System is stable again, alert reset")
	}
	if changed {
		s.changedLocked(rec)
	}
}

func (s *Supervisor) nameLocked(id string) string {
	if name := s.names[id]; name != "" {
		return name
	}
	return id
}

func (s *Supervisor) changedLocked(rec *ProcessRecord) {
	if s.metrics != nil {
		s.metrics.SetState(rec.CameraID, rec.State.String(), rec.Retries)
	}
	if s.status != nil {
		s.status.CameraStatusChanged(models.CameraStatus{
			Camera:    rec.CameraID,
			State:     rec.State.String(),
			Retries:   rec.Retries,
			AlertSent: rec.AlertSent,
			Timestamp: s.now(),
		})
	}
}

// Record returns a copy of the camera's bookkeeping.
func (s *Supervisor) Record(cameraID string) (ProcessRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[cameraID]
	if !ok {
		return ProcessRecord{}, false
	}
	cp := *rec
	cp.proc = nil
	return cp, true
}

// States returns the current state of every known camera.
func (s *Supervisor) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.State
	}
	return out
}
