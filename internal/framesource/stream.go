// Package framesource reads per-frame facial signal lines from recorded logs
// or a serial-attached capture device and decodes them into fatigue samples.
package framesource

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/banshee-data/drowsiness.report/internal/fatigue"
	"github.com/banshee-data/drowsiness.report/internal/monitoring"
)

// maxLineBytes bounds a single frame line.
const maxLineBytes = 64 * 1024

// Stats counts what a Stream has read so far.
type Stats struct {
	Lines     int
	Frames    int
	Skipped   int
	Malformed int
}

// Stream decodes frame lines from r.
type Stream struct {
	r      io.Reader
	format Format
	stats  Stats
}

// NewStream returns a Stream that decodes r in the given format.
func NewStream(r io.Reader, format Format) *Stream {
	if format == "" {
		format = FormatAuto
	}
	return &Stream{r: r, format: format}
}

// Run reads lines until EOF, a read error or ctx cancellation and calls
// handle with each decoded sample, in order, on the caller's goroutine.
// Malformed lines are logged and counted but do not stop the stream. EOF
// returns nil. On cancellation Run returns at once, but the goroutine reading
// r stays blocked in Read until data arrives or the caller closes r.
func (s *Stream) Run(ctx context.Context, handle func(fatigue.Sample)) error {
	scan := bufio.NewScanner(s.r)
	scan.Buffer(make([]byte, 0, 4096), maxLineBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking Scan runs on its own goroutine so the loop below can
	// still observe cancellation while a device is silent
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			s.stats.Lines++
			sample, err := ParseLine(s.format, line)
			switch {
			case errors.Is(err, ErrSkipLine):
				s.stats.Skipped++
			case err != nil:
				s.stats.Malformed++
				monitoring.Diagf("line %d: %v", s.stats.Lines, err)
			default:
				s.stats.Frames++
				handle(sample)
			}
		}
	}
}

// Stats returns the counters accumulated by Run. It must not be called
// concurrently with Run.
func (s *Stream) Stats() Stats {
	return s.stats
}
