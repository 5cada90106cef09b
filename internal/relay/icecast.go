/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/version"
)

// Sink receives an encoded stream.
type Sink interface {
	Stream(ctx context.Context, contentType string, body io.Reader) (int64, error)
}

// IcecastConfig addresses an Icecast-compatible mount.
type IcecastConfig struct {
	URL         string // http://host:port/mount
	Username    string
	Password    string
	StreamName  string
	Description string
}

// IcecastSource is a source client that pushes one stream per call using
// the HTTP PUT method supported by Icecast 2.4+.
type IcecastSource struct {
	cfg    IcecastConfig
	client *http.Client
	logger zerolog.Logger
}

// NewIcecastSource creates a source client. client may be nil.
func NewIcecastSource(cfg IcecastConfig, client *http.Client, logger zerolog.Logger) *IcecastSource {
	if cfg.Username == "" {
		cfg.Username = "source"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "Airwave live"
	}
	if client == nil {
		// No client timeout: a live push lasts as long as the clip.
		client = &http.Client{}
	}
	return &IcecastSource{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "icecast").Logger(),
	}
}

// Stream sends body to the mount until EOF and returns the bytes written.
func (s *IcecastSource) Stream(ctx context.Context, contentType string, body io.Reader) (int64, error) {
	counter := &countingReader{r: body}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.cfg.URL, counter)
	if err != nil {
		return 0, fmt.Errorf("build icecast request: %w", err)
	}
	req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "airwave/"+version.Version)
	req.Header.Set("Ice-Name", s.cfg.StreamName)
	req.Header.Set("Ice-Public", "0")
	if s.cfg.Description != "" {
		req.Header.Set("Ice-Description", s.cfg.Description)
	}
	req.Header.Set("Ice-Audio-Info", "channels=2;samplerate=44100;bitrate=128")

	resp, err := s.client.Do(req)
	if err != nil {
		return counter.n.Load(), fmt.Errorf("icecast push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return counter.n.Load(), fmt.Errorf("icecast rejected source: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	s.logger.Debug().Int64("bytes", counter.n.Load()).Str("mount", s.cfg.URL).Msg("stream pushed")
	return counter.n.Load(), nil
}

// countingReader is read by the transport goroutine while Stream inspects n.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
