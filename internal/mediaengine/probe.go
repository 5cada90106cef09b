/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrTimeout marks an external tool call that ran past its deadline.
var ErrTimeout = errors.New("media tool timed out")

// ProbeResult is what the metadata probe learns about a file.
type ProbeResult struct {
	DurationSeconds float64
	FormatName      string
	Title           string
	Artist          string
	BitRate         int
}

// HasFormat reports whether the probed container list contains name.
// ffprobe reports aliases comma-separated, e.g. "matroska,webm".
func (r *ProbeResult) HasFormat(name string) bool {
	if r == nil || name == "" {
		return false
	}
	for _, f := range strings.Split(r.FormatName, ",") {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

// Prober reads duration and container information from an audio file.
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// FFprobe implements Prober with the ffprobe binary.
type FFprobe struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewFFprobe returns a prober. A zero timeout means 10 seconds.
func NewFFprobe(bin string, timeout time.Duration, logger zerolog.Logger) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FFprobe{
		bin:     bin,
		timeout: timeout,
		logger:  logger.With().Str("component", "ffprobe").Logger(),
	}
}

// Probe runs ffprobe against path.
func (p *FFprobe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	output, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("ffprobe %s after %s: %w", path, p.timeout, ErrTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	result, err := ParseProbeOutput(output)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("path", path).
		Float64("duration", result.DurationSeconds).
		Str("format", result.FormatName).
		Dur("took", time.Since(start)).
		Msg("probe complete")
	return result, nil
}

// ParseProbeOutput decodes `ffprobe -print_format json -show_format` output.
func ParseProbeOutput(output []byte) (*ProbeResult, error) {
	var probe struct {
		Format struct {
			FormatName string            `json:"format_name"`
			Duration   string            `json:"duration"`
			BitRate    string            `json:"bit_rate"`
			Tags       map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if probe.Format.FormatName == "" && probe.Format.Duration == "" {
		return nil, fmt.Errorf("parse ffprobe output: no format section")
	}

	result := &ProbeResult{FormatName: probe.Format.FormatName}
	if probe.Format.Duration != "" {
		secs, err := strconv.ParseFloat(probe.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
		}
		result.DurationSeconds = secs
	}
	if probe.Format.BitRate != "" {
		result.BitRate, _ = strconv.Atoi(probe.Format.BitRate)
	}

	for k, v := range probe.Format.Tags {
		switch strings.ToLower(k) {
		case "title":
			result.Title = v
		case "artist":
			result.Artist = v
		}
	}
	return result, nil
}
