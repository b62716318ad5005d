// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// Process manages a subprocess.
type Process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	stdoutLogger func(string)
	stderrLogger func(string)

	done chan struct{}
}

// NewProcess returns process.
func NewProcess(cmd *exec.Cmd) *Process {
	return &Process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

// Timeout sets how long to wait after the
// interrupt signal before the process is killed.
func (p *Process) Timeout(timeout time.Duration) *Process {
	p.timeout = timeout
	return p
}

// StdoutLogger logs stdout line by line.
func (p *Process) StdoutLogger(l func(string)) *Process {
	p.stdoutLogger = l
	return p
}

// StderrLogger logs stderr line by line.
func (p *Process) StderrLogger(l func(string)) *Process {
	p.stderrLogger = l
	return p
}

func attachLogger(l func(string), label string, stdPipe func() (io.ReadCloser, error)) error {
	pipe, err := stdPipe()
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(pipe)
	go func() {
		for scanner.Scan() {
			l(label + ": " + scanner.Text())
		}
	}()
	return nil
}

// Start runs the process until it exits or ctx is canceled.
func (p *Process) Start(ctx context.Context) error {
	if p.stdoutLogger != nil {
		if err := attachLogger(p.stdoutLogger, "stdout", p.cmd.StdoutPipe); err != nil {
			return err
		}
	}
	if err := p.start(ctx); err != nil {
		return err
	}
	return p.Wait()
}

// Stream starts the process and returns its stdout. The
// caller must read stdout to completion before calling Wait.
func (p *Process) Stream(ctx context.Context) (io.Reader, error) {
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := p.start(ctx); err != nil {
		return nil, err
	}
	return stdout, nil
}

func (p *Process) start(ctx context.Context) error {
	if p.stderrLogger != nil {
		if err := attachLogger(p.stderrLogger, "stderr", p.cmd.StderrPipe); err != nil {
			return err
		}
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	p.done = make(chan struct{})

	go func() {
		select {
		case <-p.done:
		case <-ctx.Done():
			p.stop()
		}
	}()
	return nil
}

// ErrNotStarted Wait called before Start.
var ErrNotStarted = errors.New("process not started")

// Wait waits for the process to exit.
func (p *Process) Wait() error {
	if p.done == nil {
		return ErrNotStarted
	}
	err := p.cmd.Wait()
	close(p.done)

	// FFmpeg returns 255 on normal exit after an interrupt.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 255 {
		return nil
	}
	return err
}

// Not using CommandContext as it would kill the
// process before it has a chance to exit on its own.
func (p *Process) stop() {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-p.done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-p.done
	}
}
