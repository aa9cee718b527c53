package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"herdwatch/internal/engine"
)

const (
	maxFrameSize = 16 << 20
	stderrTail   = 2048
	// stderrGrace is how long a failed Read waits for ffmpeg's last words.
	stderrGrace = 500 * time.Millisecond
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// FFmpegSource decodes a stream with ffmpeg and reads the MJPEG image2pipe
// output.
type FFmpegSource struct {
	uri    string
	ffmpeg string
	now    func() time.Time

	mu         sync.Mutex
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	frames     *FrameSplitter
	stderr     *tailBuffer
	stderrDone chan struct{}
}

func NewFFmpegSource(uri, ffmpegPath string, now func() time.Time) *FFmpegSource {
	return &FFmpegSource{uri: uri, ffmpeg: ffmpegPath, now: now}
}

func (s *FFmpegSource) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(strings.ToLower(s.uri), "rtsp") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", s.uri,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)
}

func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, s.ffmpeg, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrStreamRead, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrStreamRead, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: start ffmpeg: %v", ErrStreamRead, err)
	}

	tail := &tailBuffer{max: stderrTail}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(tail, stderrPipe)
	}()

	s.cmd = cmd
	s.cancel = cancel
	s.frames = NewFrameSplitter(stdout)
	s.stderr = tail
	s.stderrDone = done
	return nil
}

func (s *FFmpegSource) Read(ctx context.Context) (engine.Frame, error) {
	s.mu.Lock()
	frames, tail, done := s.frames, s.stderr, s.stderrDone
	s.mu.Unlock()
	if frames == nil {
		return engine.Frame{}, fmt.Errorf("%w: stream not open", ErrStreamRead)
	}

	data, err := frames.Next()
	if err != nil {
		select {
		case <-done:
		case <-time.After(stderrGrace):
		}
		if last := tail.LastLine(); last != "" {
			return engine.Frame{}, fmt.Errorf("%w: %v (ffmpeg: %s)", ErrStreamRead, err, last)
		}
		return engine.Frame{}, fmt.Errorf("%w: %v", ErrStreamRead, err)
	}
	return engine.Frame{Data: data, CapturedAt: s.now()}, nil
}

func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	s.cancel()
	<-s.stderrDone
	_ = s.cmd.Wait()
	s.cmd = nil
	s.frames = nil
	s.stderr = nil
	s.stderrDone = nil
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// LastLine is the last non-empty line written, trimmed.
func (t *tailBuffer) LastLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := bytes.Split(bytes.TrimSpace(t.buf), []byte("\n"))
	return strings.TrimSpace(string(lines[len(lines)-1]))
}

// FrameSplitter cuts a concatenated MJPEG byte stream into JPEG images on
// SOI/EOI markers.
type FrameSplitter struct {
	r *bufio.Reader
}

func NewFrameSplitter(r io.Reader) *FrameSplitter {
	return &FrameSplitter{r: bufio.NewReaderSize(r, 1<<16)}
}

// Next returns the next complete JPEG. Bytes before an SOI are skipped.
func (f *FrameSplitter) Next() ([]byte, error) {
	if err := f.seek(soi); err != nil {
		return nil, err
	}
	buf := append(make([]byte, 0, 1<<16), soi...)

	var prev byte
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		buf = append(buf, b)
		if prev == eoi[0] && b == eoi[1] {
			return buf, nil
		}
		if len(buf) > maxFrameSize {
			return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
		}
		prev = b
	}
}

func (f *FrameSplitter) seek(marker []byte) error {
	var prev byte
	first := true
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return err
		}
		if !first && prev == marker[0] && b == marker[1] {
			return nil
		}
		prev = b
		first = false
	}
}
