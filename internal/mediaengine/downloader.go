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
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// VideoInfo is the subset of yt-dlp metadata the station uses.
type VideoInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
}

// Downloader fetches the audio of a remote video into dst.
type Downloader interface {
	Download(ctx context.Context, url string, dst io.Writer) (*VideoInfo, error)
}

// YtDlp implements Downloader with the yt-dlp binary.
type YtDlp struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewYtDlp creates a downloader. A zero timeout disables the deadline.
func NewYtDlp(bin string, timeout time.Duration, logger zerolog.Logger) *YtDlp {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YtDlp{
		bin:     bin,
		timeout: timeout,
		logger:  logger.With().Str("component", "yt-dlp").Logger(),
	}
}

// baseYtDlpArgs are shared by every invocation. Callers end the argument list
// with "--" before the URL so it is never parsed as an option.
func baseYtDlpArgs() []string {
	return []string{
		"--ignore-config",
		"--no-playlist",
		"--no-warnings",
		"--socket-timeout", "10",
	}
}

// Download resolves metadata, then streams the best audio format into dst.
func (y *YtDlp) Download(ctx context.Context, url string, dst io.Writer) (*VideoInfo, error) {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	info, err := y.metadata(ctx, url)
	if err != nil {
		return nil, err
	}

	args := append(baseYtDlpArgs(), "-f", "bestaudio", "-o", "-", "--", url)
	cmd := exec.CommandContext(ctx, y.bin, args...)
	var stderr bytes.Buffer
	cmd.Stdout = dst
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("yt-dlp download: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("yt-dlp download failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	y.logger.Info().Str("id", info.ID).Str("title", info.Title).Dur("took", time.Since(start)).Msg("audio downloaded")
	return info, nil
}

func (y *YtDlp) metadata(ctx context.Context, url string) (*VideoInfo, error) {
	args := append(baseYtDlpArgs(), "-j", "--skip-download", "--", url)
	cmd := exec.CommandContext(ctx, y.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("yt-dlp metadata: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("yt-dlp metadata failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseVideoInfo(out)
}

// ParseVideoInfo decodes `yt-dlp -j` output.
func ParseVideoInfo(out []byte) (*VideoInfo, error) {
	var info VideoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if strings.TrimSpace(info.Title) == "" {
		return nil, fmt.Errorf("metadata has no title")
	}
	return &info, nil
}
