/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, route and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_api_requests_total",
		Help: "Total HTTP requests by method, route and status code",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks HTTP handler latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "airwave_api_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections is the number of in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airwave_api_active_connections",
		Help: "In-flight HTTP requests",
	})

	// APIWebSocketConnections is the number of open websocket sessions by channel.
	APIWebSocketConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "airwave_api_websocket_connections",
		Help: "Open websocket connections",
	}, []string{"channel"})

	// QueueDepth is the number of waiting tracks.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airwave_queue_depth",
		Help: "Tracks waiting to be played",
	})

	// QueuePlaying is 1 while a track is playing.
	QueuePlaying = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airwave_queue_playing",
		Help: "Whether a track is currently playing",
	})

	// TracksPlayedTotal counts tracks that reached Finished.
	TracksPlayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_tracks_played_total",
		Help: "Tracks finished by outcome (completed, stopped, failed)",
	}, []string{"outcome"})

	// TrackErrorsTotal counts per-track failures the scheduler recovered from.
	TrackErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_track_errors_total",
		Help: "Recovered per-track scheduler errors",
	}, []string{"stage"})

	// IngestTotal counts ingest attempts by source and result.
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_ingest_total",
		Help: "Track ingest attempts",
	}, []string{"source", "result"})

	// RelayTotal counts live relay attempts by result.
	RelayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airwave_relay_total",
		Help: "Live stream relay attempts",
	}, []string{"result"})

	// RelayBytesTotal counts encoded bytes forwarded to the broadcast ingest.
	RelayBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airwave_relay_bytes_total",
		Help: "Encoded bytes forwarded to the broadcast server",
	})

	// RelayDuration tracks how long a relay took end to end.
	RelayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airwave_relay_duration_seconds",
		Help:    "Live relay wall-clock duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// ChatMessagesTotal counts accepted chat messages.
	ChatMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airwave_chat_messages_total",
		Help: "Accepted chat messages",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
