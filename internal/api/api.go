/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/ingest"
	"github.com/friendsincode/airwave/internal/models"
	"github.com/friendsincode/airwave/internal/playout"
	"github.com/friendsincode/airwave/internal/relay"
)

// Ingester turns uploaded files and video URLs into queued tracks.
type Ingester interface {
	Ingest(ctx context.Context, src, label string) (*models.Track, error)
	IngestYouTube(ctx context.Context, url string) (*models.Track, error)
}

// Player exposes the playback queue.
type Player interface {
	Snapshot() models.QueueSnapshot
	Current() *models.Track
	Clear(ctx context.Context) (playout.ClearResult, error)
}

// Relayer forwards a recorded voice chunk to the broadcast server.
type Relayer interface {
	Relay(ctx context.Context, data []byte, containerHint string) error
}

// UploadStore spools request bodies to disk.
type UploadStore interface {
	WriteTempStream(ctx context.Context, r io.Reader, ext string) (string, error)
	Remove(path string)
}

// Deps bundles the services the API needs.
type Deps struct {
	Ingest  Ingester
	Queue   Player
	Relay   Relayer
	Uploads UploadStore
	Chat    http.Handler
	Bus     events.Broker

	MaxUploadBytes int64
	MaxStreamBytes int64

	// CheckOrigin guards websocket upgrades. Nil accepts any origin.
	CheckOrigin func(*http.Request) bool
}

// API exposes the radio and chat HTTP handlers.
type API struct {
	ingest  Ingester
	queue   Player
	relay   Relayer
	uploads UploadStore
	chat    http.Handler
	bus     events.Broker

	maxUploadBytes int64
	maxStreamBytes int64
	checkOrigin    func(*http.Request) bool

	logger zerolog.Logger
}

// New creates the API handler set.
func New(deps Deps, logger zerolog.Logger) *API {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 50 << 20
	}
	if deps.MaxStreamBytes <= 0 {
		deps.MaxStreamBytes = 5 << 20
	}
	return &API{
		ingest:         deps.Ingest,
		queue:          deps.Queue,
		relay:          deps.Relay,
		uploads:        deps.Uploads,
		chat:           deps.Chat,
		bus:            deps.Bus,
		maxUploadBytes: deps.MaxUploadBytes,
		maxStreamBytes: deps.MaxStreamBytes,
		checkOrigin:    deps.CheckOrigin,
		logger:         logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the API routes on r. limit wraps the routes that accept
// media and may be nil.
func (a *API) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/radio", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit)
			}
			r.Post("/upload", a.handleUpload)
			r.Post("/youtube", a.handleYouTube)
			r.Post("/stream", a.handleStream)
		})
		r.Get("/queue", a.handleQueue)
		r.Post("/clear", a.handleClear)
		r.Get("/now-playing", a.handleNowPlaying)
		r.Get("/events", a.handleEvents)
	})
	if a.chat != nil {
		r.Handle("/chat", a.chat)
	}
}

// writeIngestError maps ingest failures onto HTTP responses.
func (a *API) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrNotAudio):
		writeError(w, http.StatusBadRequest, "not_audio", "only audio files are allowed")
	case errors.Is(err, ingest.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "url_required", "an http(s) video url is required")
	case errors.Is(err, ingest.ErrDownload):
		writeError(w, http.StatusInternalServerError, "download_failed", "could not download audio")
	case errors.Is(err, ingest.ErrMetadata):
		writeError(w, http.StatusInternalServerError, "metadata_failed", "could not read audio metadata")
	case ingest.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "ingest_failed", "could not queue track")
	}
}

func (a *API) writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "audio_too_large", "audio chunk exceeds the size limit")
	case errors.Is(err, relay.ErrEmptyPayload):
		writeError(w, http.StatusBadRequest, "audio_required", "audio chunk is empty")
	case errors.Is(err, relay.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "invalid_format", "invalid audio format")
	case relay.IsClientError(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "relay_failed", "failed to stream audio")
	}
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError sends {"error": code, "message": message}.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
