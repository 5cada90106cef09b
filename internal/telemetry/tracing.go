/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/friendsincode/airwave"

// Span attributes set by the ingest and relay paths.
const (
	AttrIngestSource   = attribute.Key("airwave.ingest.source")
	AttrTrackID        = attribute.Key("airwave.track.id")
	AttrTrackTitle     = attribute.Key("airwave.track.title")
	AttrTrackDuration  = attribute.Key("airwave.track.duration_seconds")
	AttrRelayContainer = attribute.Key("airwave.relay.container")
	AttrRelayBytesIn   = attribute.Key("airwave.relay.bytes_in")
	AttrRelayBytesOut  = attribute.Key("airwave.relay.bytes_out")
)

// TracerConfig selects where spans go.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port of an OTLP gRPC collector
	Enabled        bool
	SampleRate     float64
}

// TracerProvider owns the SDK provider when tracing is enabled.
type TracerProvider struct {
	sdk    *sdktrace.TracerProvider
	logger zerolog.Logger
}

// InitTracer installs the global tracer provider. When tracing is disabled a
// no-op provider is installed and Shutdown does nothing.
func InitTracer(ctx context.Context, cfg TracerConfig, logger zerolog.Logger) (*TracerProvider, error) {
	logger = logger.With().Str("component", "tracing").Logger()
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		logger.Debug().Msg("tracing disabled")
		return &TracerProvider{logger: logger}, nil
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Float64("sample_rate", cfg.SampleRate).
		Msg("tracing enabled")
	return &TracerProvider{sdk: tp, logger: logger}, nil
}

// newSampler honours the parent decision so a sampled upstream request keeps
// its ingest and relay spans.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.sdk == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	tp.logger.Debug().Msg("tracer provider flushed")
	return nil
}

// StartIngestSpan opens the span for one ingest call. source is "upload" or
// "youtube".
func StartIngestSpan(ctx context.Context, source string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "ingest."+source,
		trace.WithAttributes(AttrIngestSource.String(source)))
}

// SetTrackAttributes tags span with the track that came out of ingest.
func SetTrackAttributes(span trace.Span, id int64, title string, durationSeconds float64) {
	span.SetAttributes(
		AttrTrackID.Int64(id),
		AttrTrackTitle.String(title),
		AttrTrackDuration.Float64(durationSeconds),
	)
}

// StartRelaySpan opens the span for one live clip.
func StartRelaySpan(ctx context.Context, container string, size int) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "relay.stream",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrRelayContainer.String(container),
			AttrRelayBytesIn.Int(size),
		))
}

// SetRelayBytesOut records how much encoded audio reached the mount.
func SetRelayBytesOut(span trace.Span, n int64) {
	span.SetAttributes(AttrRelayBytesOut.Int64(n))
}

// EndSpan marks the span failed when err is set, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the active trace id for log correlation, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
