/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrTranscode is returned when the encoder process fails.
var ErrTranscode = errors.New("transcode failed")

// Progress is a snapshot of encoder progress parsed from ffmpeg -progress output.
type Progress struct {
	OutTime    time.Duration
	TotalBytes int64
	Speed      string
	Done       bool
}

// TranscodeRequest describes one transcode job.
type TranscodeRequest struct {
	Input   string
	Output  io.Writer
	Encoder EncoderConfig

	// Progress, when non-nil, receives updates. Sends never block; slow
	// readers miss intermediate updates. It is not closed.
	Progress chan<- Progress
}

// Transcoder converts an input file into an encoded stream. Transcode blocks
// until the job is over and returns exactly one terminal result.
type Transcoder interface {
	Transcode(ctx context.Context, req TranscodeRequest) error
}

// FFmpegTranscoder implements Transcoder with the ffmpeg binary.
type FFmpegTranscoder struct {
	bin    string
	logger zerolog.Logger
}

// NewFFmpegTranscoder creates a transcoder.
func NewFFmpegTranscoder(bin string, logger zerolog.Logger) *FFmpegTranscoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegTranscoder{
		bin:    bin,
		logger: logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// Transcode runs ffmpeg and copies its stdout into req.Output.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, req TranscodeRequest) error {
	if req.Output == nil {
		return fmt.Errorf("%w: no output writer", ErrTranscode)
	}
	args, err := NewEncoderBuilder(req.Encoder).Args(req.Input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTranscode, err)
	}

	cmd := exec.CommandContext(ctx, t.bin, args...)
	cmd.Stdout = req.Output
	cmd.WaitDelay = time.Second
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %w", ErrTranscode, err)
	}

	t.logger.Debug().Strs("args", args).Msg("starting encoder")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start: %w", ErrTranscode, err)
	}

	tail := readProgress(stderr, req.Progress)
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTranscode, ErrTimeout)
		}
		return fmt.Errorf("%w: %w", ErrTranscode, ctxErr)
	}
	if waitErr != nil {
		msg := strings.Join(tail, "; ")
		if msg == "" {
			msg = waitErr.Error()
		}
		return fmt.Errorf("%w: %s", ErrTranscode, msg)
	}
	return nil
}

const stderrTailLines = 20

// readProgress consumes ffmpeg stderr until EOF. key=value progress lines are
// forwarded to progress; anything else is kept as a bounded tail for error
// reporting.
func readProgress(r io.Reader, progress chan<- Progress) []string {
	var (
		tail    []string
		current Progress
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.ContainsAny(key, " \t") {
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
			continue
		}
		if applyProgress(&current, key, value) && progress != nil {
			select {
			case progress <- current:
			default:
			}
		}
	}
	return tail
}

// applyProgress folds one progress field into p and reports whether the block
// is complete.
func applyProgress(p *Progress, key, value string) bool {
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both names
		if us, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.OutTime = time.Duration(us) * time.Microsecond
		}
	case "total_size":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.TotalBytes = n
		}
	case "speed":
		p.Speed = value
	case "progress":
		p.Done = value == "end"
		return true
	}
	return false
}
