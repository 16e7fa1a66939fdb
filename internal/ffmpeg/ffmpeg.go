// Package ffmpeg wraps the ffprobe and ffmpeg binaries used to convert
// uploaded videos.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/vidconvert/internal/progress"
)

// ExitError reports a non-zero ffmpeg exit status.
type ExitError struct {
	Code int
	Tail string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg failed with code %d", e.Code)
}

// Converter runs ffmpeg for one input at a time. It has no timeout of its own;
// cancel ctx to stop a conversion.
type Converter struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *log.Logger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewConverter returns a converter that uses the binaries found on PATH.
func NewConverter(logger *log.Logger) *Converter {
	if logger == nil {
		logger = log.Default()
	}
	return &Converter{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Logger:      logger,
		command:     exec.CommandContext,
	}
}

// ProbeDuration returns the container duration of path in seconds.
func (c *Converter) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := c.cmd(ctx, c.FFprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return 0, fmt.Errorf("duration missing")
	}
	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	return duration, nil
}

// Args builds the ffmpeg argument list for converting input to output in
// the given container format. Unknown formats use the mp4 settings.
func Args(input, output, format string) []string {
	args := []string{"-i", input, "-y"}
	switch strings.ToLower(format) {
	case "avi":
		args = append(args, "-c:v", "mpeg4", "-q:v", "5", "-c:a", "copy")
	case "mkv", "webm":
		args = append(args, "-c", "copy")
	default:
		args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-c:a", "copy")
	}
	return append(args, output)
}

// Convert runs ffmpeg and blocks until it exits. Every tenth percent of
// progress is passed to sink on the calling goroutine. When the duration
// cannot be probed the conversion still runs, without progress.
func (c *Converter) Convert(ctx context.Context, input, output, format string, sink func(int)) error {
	duration, err := c.ProbeDuration(ctx, input)
	if err != nil {
		c.Logger.Printf("probe %s: %v", input, err)
		duration = 0
	}

	args := Args(input, output, format)
	c.Logger.Printf("ffmpeg command: %s %s", c.FFmpegPath, strings.Join(args, " "))

	cmd := c.cmd(ctx, c.FFmpegPath, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	tail := newTail(20)
	throttle := progress.NewThrottle()
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.add(line)
		percent, ok := progress.Decode(line, duration)
		if ok && throttle.Accept(percent) && sink != nil {
			sink(percent)
		}
	}
	// keep draining so ffmpeg never blocks on a full pipe
	if scanner.Err() != nil {
		_, _ = io.Copy(io.Discard, pr)
	}

	if err := <-waitErr; err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExitError{Code: exitErr.ExitCode(), Tail: tail.String()}
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func (c *Converter) cmd(ctx context.Context, name string, args ...string) *exec.Cmd {
	if c.command == nil {
		return exec.CommandContext(ctx, name, args...)
	}
	return c.command(ctx, name, args...)
}

// scanLines splits on \n or \r. ffmpeg redraws its status line with bare
// carriage returns.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type tailBuffer struct {
	max   int
	lines []string
}

func newTail(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
