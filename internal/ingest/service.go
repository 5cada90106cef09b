/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/mediaengine"
	"github.com/friendsincode/airwave/internal/models"
	"github.com/friendsincode/airwave/internal/telemetry"
)

var (
	ErrNotAudio   = errors.New("source is not an audio file")
	ErrStorage    = errors.New("failed to store track")
	ErrMetadata   = errors.New("failed to read audio metadata")
	ErrInvalidURL = errors.New("a valid http(s) video URL is required")
	ErrDownload   = errors.New("failed to download audio")
)

// Library is the part of the media library used by ingest.
type Library interface {
	Import(ctx context.Context, src, name string) (string, error)
	WriteTempStream(ctx context.Context, r io.Reader, ext string) (string, error)
	Remove(path string)
}

// Enqueuer accepts finished tracks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t *models.Track) error
}

// Service turns uploaded files and video URLs into queued tracks.
type Service struct {
	library    Library
	prober     mediaengine.Prober
	downloader mediaengine.Downloader
	queue      Enqueuer
	logger     zerolog.Logger
}

// NewService creates an ingest service.
func NewService(library Library, prober mediaengine.Prober, downloader mediaengine.Downloader, queue Enqueuer, logger zerolog.Logger) *Service {
	return &Service{
		library:    library,
		prober:     prober,
		downloader: downloader,
		queue:      queue,
		logger:     logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest moves src into the sound directory under its canonical name, probes
// it and enqueues the resulting track. label is the original filename or
// title. On failure nothing is left in the sound directory.
func (s *Service) Ingest(ctx context.Context, src, label string) (*models.Track, error) {
	ctx, span := telemetry.StartIngestSpan(ctx, "upload")
	track, err := s.ingest(ctx, src, label)
	if err == nil {
		telemetry.SetTrackAttributes(span, track.ID, track.Title, track.DurationSeconds)
	}
	telemetry.EndSpan(span, err)
	recordIngest("upload", err)
	return track, err
}

func (s *Service) ingest(ctx context.Context, src, label string) (*models.Track, error) {
	mt, err := mimetype.DetectFile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !isAudio(mt) {
		return nil, fmt.Errorf("%w: detected %s", ErrNotAudio, mt.String())
	}

	title := CleanTitle(label)
	if strings.TrimSpace(title) == "" {
		title = fallbackTitle
	}
	id := models.NextTrackID(time.Now())
	fileName := fmt.Sprintf("%d-%s.mp3", id, Slug(title))

	dest, err := s.library.Import(ctx, src, fileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	probe, err := s.prober.Probe(ctx, dest)
	if err != nil {
		s.library.Remove(dest)
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	if probe.DurationSeconds <= 0 {
		s.library.Remove(dest)
		return nil, fmt.Errorf("%w: unknown duration", ErrMetadata)
	}

	track := &models.Track{
		ID:              id,
		FilePath:        dest,
		FileName:        fileName,
		Title:           title,
		DurationSeconds: probe.DurationSeconds,
		Status:          models.TrackWaiting,
		SubmittedAt:     time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, track); err != nil {
		s.library.Remove(dest)
		return nil, fmt.Errorf("enqueue track: %w", err)
	}

	s.logger.Info().
		Str("trace_id", telemetry.TraceID(ctx)).
		Str("title", title).
		Str("file", fileName).
		Float64("duration", probe.DurationSeconds).
		Str("format", probe.FormatName).
		Msg("track ingested")
	return track.Clone(), nil
}

// IngestYouTube downloads the audio of a video and ingests it.
func (s *Service) IngestYouTube(ctx context.Context, videoURL string) (*models.Track, error) {
	ctx, span := telemetry.StartIngestSpan(ctx, "youtube")
	track, err := s.ingestYouTube(ctx, videoURL)
	if err == nil {
		telemetry.SetTrackAttributes(span, track.ID, track.Title, track.DurationSeconds)
	}
	telemetry.EndSpan(span, err)
	recordIngest("youtube", err)
	return track, err
}

func (s *Service) ingestYouTube(ctx context.Context, videoURL string) (*models.Track, error) {
	videoURL, err := validateVideoURL(videoURL)
	if err != nil {
		return nil, err
	}

	tmp, info, err := s.download(ctx, videoURL)
	if err != nil {
		return nil, err
	}

	title := SanitizeVideoTitle(info.Title)
	track, err := s.ingest(ctx, tmp, title)
	if err != nil {
		// Import removes the temp file only after a successful copy.
		s.library.Remove(tmp)
		return nil, err
	}
	return track, nil
}

// download streams the remote audio into a temp file.
// validateVideoURL accepts absolute http and https URLs only.
func validateVideoURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u.String(), nil
}

func (s *Service) download(ctx context.Context, videoURL string) (string, *mediaengine.VideoInfo, error) {
	pr, pw := io.Pipe()
	type stored struct {
		path string
		err  error
	}
	done := make(chan stored, 1)
	go func() {
		path, err := s.library.WriteTempStream(ctx, pr, "audio")
		if err != nil {
			pr.CloseWithError(err)
		}
		done <- stored{path: path, err: err}
	}()

	info, dlErr := s.downloader.Download(ctx, videoURL, pw)
	pw.CloseWithError(dlErr)
	res := <-done

	switch {
	case dlErr != nil:
		if res.err == nil {
			s.library.Remove(res.path)
		}
		s.logger.Warn().Err(dlErr).Str("url", videoURL).Msg("download failed")
		return "", nil, fmt.Errorf("%w: %w", ErrDownload, dlErr)
	case res.err != nil:
		return "", nil, fmt.Errorf("%w: %w", ErrStorage, res.err)
	}

	s.logger.Debug().Str("url", videoURL).Str("temp", filepath.Base(res.path)).Msg("audio downloaded")
	return res.path, info, nil
}

// isAudio accepts audio types and the containers yt-dlp hands back for
// audio-only formats.
func isAudio(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "audio/"):
			return true
		case m.Is("video/webm"), m.Is("video/mp4"), m.Is("application/ogg"):
			return true
		}
	}
	return false
}

func recordIngest(source string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotAudio), errors.Is(err, ErrInvalidURL):
		result = "rejected"
	default:
		result = "error"
	}
	telemetry.IngestTotal.WithLabelValues(source, result).Inc()
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotAudio) || errors.Is(err, ErrInvalidURL)
}
