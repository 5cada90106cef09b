/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/airwave/internal/api"
	"github.com/friendsincode/airwave/internal/chat"
	"github.com/friendsincode/airwave/internal/config"
	"github.com/friendsincode/airwave/internal/eventbus"
	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/ingest"
	"github.com/friendsincode/airwave/internal/media"
	"github.com/friendsincode/airwave/internal/mediaengine"
	"github.com/friendsincode/airwave/internal/playout"
	"github.com/friendsincode/airwave/internal/relay"
	"github.com/friendsincode/airwave/internal/telemetry"
	"github.com/friendsincode/airwave/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	origins *originPolicy
	bus     events.Broker
	library *media.Library
	store   playout.JobStore
	queue   *playout.Queue
	ingest  *ingest.Service
	relay   *relay.Relay
	chat    *chat.Service
	api     *api.API

	// storeBackend is the job store in use after any fallback.
	storeBackend config.QueueBackend

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. Background workers are
// running when it returns; Close stops them.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  chi.NewRouter(),
		origins: newOriginPolicy(cfg.AllowedOrigins, cfg.IsProduction()),
	}

	if err := srv.initDependencies(); err != nil {
		srv.Close()
		return nil, err
	}

	srv.configureMiddleware()
	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: srv.router,
		// Header deadline guards against slowloris; bodies may be large uploads.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// Relays and websockets manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.bus = s.newBroker()

	s.library = media.NewLibrary(s.cfg, s.logger)
	if err := s.library.Init(ctx); err != nil {
		return err
	}
	s.DeferClose(s.library.Close)
	s.logger.Info().
		Str("sound_dir", s.library.SoundDir()).
		Str("temp_dir", s.library.TempDir()).
		Msg("media directories ready")

	s.store = s.newJobStore(ctx)

	s.queue = playout.NewQueue(s.store, s.library, s.bus, playout.Options{
		ClearStopsPlayback: s.cfg.ClearStopsPlayback,
	}, s.logger)

	prober := mediaengine.NewFFprobe(s.cfg.FFprobeBin, s.cfg.ProbeTimeout, s.logger)
	downloader := mediaengine.NewYtDlp(s.cfg.YtDlpBin, s.cfg.DownloadTimeout, s.logger)
	transcoder := mediaengine.NewFFmpegTranscoder(s.cfg.FFmpegBin, s.logger)

	s.ingest = ingest.NewService(s.library, prober, downloader, s.queue, s.logger)

	sink := relay.NewIcecastSource(relay.IcecastConfig{
		URL:         s.cfg.IcecastURL(),
		Username:    s.cfg.IcecastSourceUser,
		Password:    s.cfg.IcecastSourcePassword,
		StreamName:  "Airwave Live",
		Description: "Live voice",
	}, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}, s.logger)
	s.relay = relay.New(s.library, prober, transcoder, sink, s.bus, relay.Options{
		MaxBytes: s.cfg.StreamMaxBytes,
		Timeout:  s.cfg.RelayTimeout,
	}, s.logger)

	s.chat = chat.NewService(s.bus, s.logger)

	s.api = api.New(api.Deps{
		Ingest:         s.ingest,
		Queue:          s.queue,
		Relay:          s.relay,
		Uploads:        s.library,
		Chat:           chat.NewGateway(s.chat, s.bus, s.origins.checkRequest, s.logger),
		Bus:            s.bus,
		MaxUploadBytes: s.cfg.MaxUploadSizeBytes(),
		MaxStreamBytes: s.cfg.StreamMaxBytes,
		CheckOrigin:    s.origins.checkRequest,
	}, s.logger)

	return nil
}

// newBroker picks the event bus backend. Networked backends degrade to
// in-process delivery when their server is unreachable.
func (s *Server) newBroker() events.Broker {
	switch s.cfg.EventBus {
	case config.EventBusRedis:
		rcfg := eventbus.DefaultRedisConfig()
		rcfg.Addr = s.cfg.RedisAddr
		rcfg.Password = s.cfg.RedisPassword
		rcfg.DB = s.cfg.RedisDB
		bus := eventbus.NewRedisBus(rcfg, s.logger)
		s.DeferClose(bus.Close)
		return bus
	case config.EventBusNATS:
		ncfg := eventbus.DefaultNATSConfig()
		ncfg.URL = s.cfg.NATSURL
		bus := eventbus.NewNATSBus(ncfg, s.logger)
		s.DeferClose(bus.Close)
		return bus
	default:
		return events.NewBus()
	}
}

// newJobStore returns the queue mirror. The Redis mirror is wiped on startup
// because the audio files it points at were purged by the library.
func (s *Server) newJobStore(ctx context.Context) playout.JobStore {
	s.storeBackend = config.QueueMemory
	if s.cfg.QueueBackend != config.QueueRedis {
		return playout.NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	})
	store := playout.NewRedisStore(client, "")

	err := store.Ping(ctx)
	if err == nil {
		err = store.Reset(ctx)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("addr", s.cfg.RedisAddr).Msg("redis job store unavailable, using in-memory queue store")
		_ = client.Close()
		return playout.NewMemoryStore()
	}

	s.DeferClose(client.Close)
	s.storeBackend = config.QueueRedis
	s.logger.Info().Str("addr", s.cfg.RedisAddr).Msg("redis job store ready")
	return store
}

func (s *Server) configureMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeadersMiddleware)
	s.router.Use(corsMiddleware(s.origins))
	s.router.Use(telemetry.TracingMiddleware("airwave-api"))
	s.router.Use(telemetry.MetricsMiddleware)
	s.router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipsTimeout(r) {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})
}

// skipsTimeout reports requests that legitimately outlive the default
// handler timeout: websocket sessions, uploads, downloads and relays.
func skipsTimeout(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "websocket" {
		return true
	}
	switch r.URL.Path {
	case "/radio/upload", "/radio/youtube", "/radio/stream":
		return true
	}
	return false
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())
	s.router.Get("/queues", s.handleQueues)
	s.api.Routes(s.router, rateLimit(s.cfg.RateLimitPerMinute))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.queue.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"playing": snap.Current != nil,
		"waiting": len(snap.Queue),
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close stops background workers and releases resources in reverse order
// of acquisition.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("playback loop exited")
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
	}
	s.bgWG.Wait()
}
