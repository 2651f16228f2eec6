package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultTailLines = 50
	// waitDelay bounds how long Wait blocks on open pipes after the process is killed.
	waitDelay = 3 * time.Second
)

// ExitError is returned when the engine exits non-zero. Stderr holds the last
// lines the engine wrote and is meant for logs only.
type ExitError struct {
	Binary   string
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", filepath.Base(e.Binary), e.ExitCode)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Tail returns the captured stderr lines joined by newlines.
func (e *ExitError) Tail() string { return strings.Join(e.Stderr, "\n") }

type FFmpeg struct {
	pathToBinary string
	pathToProbe  string
	tailLines    int
}

func NewFFmpeg(pathToBinary, pathToProbe string) *FFmpeg {
	return &FFmpeg{
		pathToBinary: pathToBinary,
		pathToProbe:  pathToProbe,
		tailLines:    defaultTailLines,
	}
}

// Exec runs the encoder. Every stdout line is handed to onLine, which is where
// "-progress pipe:1" output lands. The process group is killed when ctx ends.
func (f *FFmpeg) Exec(ctx context.Context, args []string, onLine func(string)) error {
	return f.run(ctx, f.pathToBinary, args, onLine)
}

// Probe runs the prober and returns everything it wrote to stdout.
func (f *FFmpeg) Probe(ctx context.Context, args []string) ([]byte, error) {
	var out bytes.Buffer
	err := f.run(ctx, f.pathToProbe, args, func(line string) {
		out.WriteString(line)
		out.WriteByte('\n')
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (f *FFmpeg) run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", filepath.Base(binary), err)
	}

	tail := newRing(f.tailLines)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, func(line string) {
			if onLine != nil {
				onLine(line)
			}
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, tail.add)
	}()
	wg.Wait()

	err = cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("%s killed: %w", filepath.Base(binary), ctx.Err())
	}
	if err != nil {
		exitErr := &ExitError{Binary: binary, ExitCode: -1, Stderr: tail.lines(), Err: err}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitErr.ExitCode = ee.ExitCode()
		}
		return exitErr
	}
	return nil
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	// drain whatever the scanner refused so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

type ring struct {
	mu  sync.Mutex
	max int
	buf []string
}

func newRing(n int) *ring { return &ring{max: n} }

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == r.max {
		r.buf = r.buf[1:]
	}
	r.buf = append(r.buf, line)
}

func (r *ring) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.buf...)
}
