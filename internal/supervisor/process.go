package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is one running worker.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Terminate asks the process to exit and kills it after grace.
	Terminate(grace time.Duration) error
	Done() <-chan struct{}
	// ExitCode is valid once Done is closed; -1 when unknown.
	ExitCode() int
}

// Launcher starts the worker for a camera.
type Launcher interface {
	Launch(cameraID string) (Process, error)
}

// ExecLauncher runs the worker binary with the camera id as its only
// argument.
type ExecLauncher struct {
	Path string
}

func (l ExecLauncher) Launch(cameraID string) (Process, error) {
	cmd := exec.Command(l.Path, cameraID)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outW.Close()
		errW.Close()
		return nil, fmt.Errorf("start worker %s: %w", l.Path, err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdout: outR,
		stderr: errR,
		done:   make(chan struct{}),
		code:   -1,
	}
	go func() {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		p.mu.Lock()
		switch {
		case err == nil:
			p.code = 0
		case errors.As(err, &exitErr):
			p.code = exitErr.ExitCode()
		}
		p.mu.Unlock()
		outW.Close()
		errW.Close()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
	done   chan struct{}

	mu   sync.Mutex
	code int
}

func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *execProcess) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker: %w", err)
	}
	<-p.done
	return nil
}
