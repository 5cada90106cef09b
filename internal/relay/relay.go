/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/mediaengine"
	"github.com/friendsincode/airwave/internal/telemetry"
)

var (
	ErrEmptyPayload  = errors.New("no audio received")
	ErrTooLarge      = errors.New("audio chunk too large")
	ErrInvalidFormat = errors.New("invalid or corrupt audio container")
	ErrRelay         = errors.New("live relay failed")
)

// DefaultContainer is assumed when the caller gives no hint.
const DefaultContainer = "webm"

var validHint = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

// TempFiles is the part of the media library the relay uses for scratch files.
type TempFiles interface {
	WriteTemp(ctx context.Context, data []byte, ext string) (string, error)
	Remove(path string)
}

// Options tune the relay.
type Options struct {
	MaxBytes int64
	Timeout  time.Duration
	Encoder  mediaengine.EncoderConfig
}

// Relay transcodes short live-voice clips in real time and pushes them to
// the broadcast server. It never touches the playback queue.
type Relay struct {
	files      TempFiles
	prober     mediaengine.Prober
	transcoder mediaengine.Transcoder
	sink       Sink
	bus        events.Broker
	opts       Options
	logger     zerolog.Logger
}

// New creates a relay. A zero Encoder uses the live voice profile.
func New(files TempFiles, prober mediaengine.Prober, transcoder mediaengine.Transcoder, sink Sink, bus events.Broker, opts Options, logger zerolog.Logger) *Relay {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 5 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Encoder == (mediaengine.EncoderConfig{}) {
		opts.Encoder = mediaengine.LiveVoiceProfile()
	}
	return &Relay{
		files:      files,
		prober:     prober,
		transcoder: transcoder,
		sink:       sink,
		bus:        bus,
		opts:       opts,
		logger:     logger.With().Str("component", "relay").Logger(),
	}
}

// MaxBytes is the largest accepted clip.
func (r *Relay) MaxBytes() int64 { return r.opts.MaxBytes }

// Relay validates data against containerHint, then transcodes it in real
// time to the broadcast mount. The scratch file is removed on every path.
func (r *Relay) Relay(ctx context.Context, data []byte, containerHint string) (err error) {
	hint := strings.ToLower(strings.TrimSpace(containerHint))
	if hint == "" {
		hint = DefaultContainer
	}

	ctx, span := telemetry.StartRelaySpan(ctx, hint, len(data))
	start := time.Now()
	defer func() {
		telemetry.EndSpan(span, err)
		telemetry.RelayTotal.WithLabelValues(relayResult(err)).Inc()
		telemetry.RelayDuration.Observe(time.Since(start).Seconds())
	}()

	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if int64(len(data)) > r.opts.MaxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), r.opts.MaxBytes)
	}
	if !validHint.MatchString(hint) {
		return fmt.Errorf("%w: unsupported container %q", ErrInvalidFormat, containerHint)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	path, err := r.files.WriteTemp(ctx, data, hint)
	if err != nil {
		return fmt.Errorf("%w: save temp file: %w", ErrRelay, err)
	}
	defer r.files.Remove(path)

	if err := r.validate(ctx, data, path, hint); err != nil {
		return err
	}

	session := uuid.NewString()
	log := r.logger.With().Str("session", session).Str("trace_id", telemetry.TraceID(ctx)).Logger()
	r.bus.Publish(events.EventRelayStarted, events.Payload{"session": session, "bytes": len(data)})
	log.Info().Int("bytes", len(data)).Str("container", hint).Msg("relaying live audio")

	sent, err := r.forward(ctx, path, log)
	telemetry.SetRelayBytesOut(span, sent)
	r.bus.Publish(events.EventRelayFinished, events.Payload{
		"session": session,
		"bytes":   sent,
		"ok":      err == nil,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, mediaengine.ErrTimeout) {
			err = fmt.Errorf("%w: %w", mediaengine.ErrTimeout, err)
		}
		log.Error().Err(err).Msg("live relay failed")
		return fmt.Errorf("%w: %w", ErrRelay, err)
	}

	telemetry.RelayBytesTotal.Add(float64(sent))
	log.Info().Int64("sent", sent).Dur("took", time.Since(start)).Msg("live relay finished")
	return nil
}

// validate sniffs the payload and confirms the container with the probe.
func (r *Relay) validate(ctx context.Context, data []byte, path, hint string) error {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return fmt.Errorf("%w: got text (%s)", ErrInvalidFormat, mt.String())
		}
	}
	if mt.Is("application/octet-stream") {
		return fmt.Errorf("%w: unrecognized content", ErrInvalidFormat)
	}

	probe, err := r.prober.Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if !probe.HasFormat(hint) {
		return fmt.Errorf("%w: expected %s, got %q", ErrInvalidFormat, hint, probe.FormatName)
	}
	return nil
}

// forward runs the encoder into the sink through a pipe. Whichever side
// fails first cancels the other.
func (r *Relay) forward(ctx context.Context, path string, log zerolog.Logger) (int64, error) {
	pr, pw := io.Pipe()
	progress := make(chan mediaengine.Progress, 8)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for p := range progress {
			log.Debug().Dur("out_time", p.OutTime).Int64("bytes", p.TotalBytes).Str("speed", p.Speed).Msg("encoder progress")
		}
	}()

	enc := mediaengine.NewEncoderBuilder(r.opts.Encoder)
	var sent int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.transcoder.Transcode(gctx, mediaengine.TranscodeRequest{
			Input:    path,
			Output:   pw,
			Encoder:  enc.Config(),
			Progress: progress,
		})
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		n, err := r.sink.Stream(gctx, enc.ContentType(), pr)
		sent = n
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		pr.Close()
		return nil
	})

	err := g.Wait()
	close(progress)
	<-progressDone
	return sent, err
}

func relayResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsClientError(err):
		return "rejected"
	case errors.Is(err, mediaengine.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// IsClientError reports whether err was caused by the submitted payload.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyPayload) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrInvalidFormat)
}
