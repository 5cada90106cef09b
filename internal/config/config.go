/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// QueueBackend selects where the playback job queue lives.
type QueueBackend string

const (
	QueueMemory QueueBackend = "memory"
	QueueRedis  QueueBackend = "redis"
)

// EventBusBackend selects the event broker implementation.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// DefaultIcecastPassword is the stock Icecast source password. It is refused in production.
const DefaultIcecastPassword = "hackme"

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	SoundDir        string
	TempDir         string
	MaxUploadSizeMB int
	StreamMaxBytes  int64
	AllowedOrigins  []string

	// Icecast ingest for the live voice relay
	IcecastHost           string
	IcecastPort           int
	IcecastMount          string
	IcecastSourceUser     string
	IcecastSourcePassword string

	// External tools
	FFmpegBin  string
	FFprobeBin string
	YtDlpBin   string

	ProbeTimeout       time.Duration
	RelayTimeout       time.Duration
	DownloadTimeout    time.Duration
	CleanupGrace       time.Duration
	ClearStopsPlayback bool

	QueueBackend  QueueBackend
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	RateLimitPerMinute int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"AIRWAVE_ENV", "NODE_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"AIRWAVE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"AIRWAVE_HTTP_PORT", "PORT"}, 3000),
		SoundDir:        getEnvAny([]string{"AIRWAVE_SOUND_DIR"}, "./sound"),
		TempDir:         getEnvAny([]string{"AIRWAVE_TEMP_DIR", "TEMP_DIR"}, "./temp"),
		MaxUploadSizeMB: getEnvIntAny([]string{"AIRWAVE_MAX_UPLOAD_MB"}, 50),
		StreamMaxBytes:  int64(getEnvIntAny([]string{"AIRWAVE_STREAM_MAX_BYTES"}, 5*1024*1024)),
		AllowedOrigins:  splitList(getEnvAny([]string{"AIRWAVE_ALLOWED_ORIGINS", "FRONTEND_URL"}, "http://localhost:3001")),

		IcecastHost:           getEnvAny([]string{"AIRWAVE_ICECAST_HOST", "HOST"}, "localhost"),
		IcecastPort:           getEnvIntAny([]string{"AIRWAVE_ICECAST_PORT"}, 8005),
		IcecastMount:          getEnvAny([]string{"AIRWAVE_ICECAST_MOUNT"}, "/voice"),
		IcecastSourceUser:     getEnvAny([]string{"AIRWAVE_ICECAST_SOURCE_USER"}, "source"),
		IcecastSourcePassword: getEnvAny([]string{"AIRWAVE_ICECAST_SOURCE_PASSWORD", "ICECAST_SOURCE_PASSWORD"}, DefaultIcecastPassword),

		FFmpegBin:  getEnvAny([]string{"AIRWAVE_FFMPEG_BIN"}, "ffmpeg"),
		FFprobeBin: getEnvAny([]string{"AIRWAVE_FFPROBE_BIN"}, "ffprobe"),
		YtDlpBin:   getEnvAny([]string{"AIRWAVE_YTDLP_BIN"}, "yt-dlp"),

		ProbeTimeout:       time.Duration(getEnvIntAny([]string{"AIRWAVE_PROBE_TIMEOUT"}, 10)) * time.Second,
		RelayTimeout:       time.Duration(getEnvIntAny([]string{"AIRWAVE_RELAY_TIMEOUT"}, 600)) * time.Second,
		DownloadTimeout:    time.Duration(getEnvIntAny([]string{"AIRWAVE_DOWNLOAD_TIMEOUT"}, 600)) * time.Second,
		CleanupGrace:       time.Duration(getEnvIntAny([]string{"AIRWAVE_CLEANUP_GRACE_MS"}, 2000)) * time.Millisecond,
		ClearStopsPlayback: getEnvBoolAny([]string{"AIRWAVE_CLEAR_STOPS_PLAYBACK"}, true),

		QueueBackend:  QueueBackend(strings.ToLower(getEnvAny([]string{"AIRWAVE_QUEUE_BACKEND"}, string(QueueMemory)))),
		EventBus:      EventBusBackend(strings.ToLower(getEnvAny([]string{"AIRWAVE_EVENT_BUS"}, string(EventBusMemory)))),
		RedisAddr:     getEnvAny([]string{"AIRWAVE_REDIS_ADDR"}, legacyRedisAddr()),
		RedisPassword: getEnvAny([]string{"AIRWAVE_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"AIRWAVE_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"AIRWAVE_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),

		RateLimitPerMinute: getEnvIntAny([]string{"AIRWAVE_RATE_LIMIT_PER_MINUTE"}, 30),

		TracingEnabled:    getEnvBoolAny([]string{"AIRWAVE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"AIRWAVE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"AIRWAVE_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("unsupported queue backend %q", c.QueueBackend)
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	if c.SoundDir == "" || c.TempDir == "" {
		return fmt.Errorf("AIRWAVE_SOUND_DIR and AIRWAVE_TEMP_DIR must not be empty")
	}

	if c.ProbeTimeout <= 0 || c.RelayTimeout <= 0 || c.DownloadTimeout <= 0 {
		return fmt.Errorf("probe, relay and download timeouts must be positive")
	}
	if c.CleanupGrace < 0 {
		return fmt.Errorf("AIRWAVE_CLEANUP_GRACE_MS must not be negative")
	}
	if c.StreamMaxBytes <= 0 {
		return fmt.Errorf("AIRWAVE_STREAM_MAX_BYTES must be positive")
	}
	if !strings.HasPrefix(c.IcecastMount, "/") {
		return fmt.Errorf("AIRWAVE_ICECAST_MOUNT must start with '/', got %q", c.IcecastMount)
	}

	if c.IsProduction() {
		if c.IcecastSourcePassword == "" || strings.EqualFold(c.IcecastSourcePassword, DefaultIcecastPassword) {
			return fmt.Errorf("AIRWAVE_ICECAST_SOURCE_PASSWORD or ICECAST_SOURCE_PASSWORD must be set to a non-default value in production")
		}
	}
	return nil
}

// IsProduction reports whether the process runs with production semantics.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// HTTPAddr is the listen address for the public HTTP server.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPBind, strconv.Itoa(c.HTTPPort))
}

// IcecastURL is the source ingest URL for the live relay.
func (c *Config) IcecastURL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(c.IcecastHost, strconv.Itoa(c.IcecastPort)), c.IcecastMount)
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 50 << 20
	}
	return int64(c.MaxUploadSizeMB) << 20
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"FRONTEND_URL":            "use AIRWAVE_ALLOWED_ORIGINS",
		"TEMP_DIR":                "use AIRWAVE_TEMP_DIR",
		"ICECAST_SOURCE_PASSWORD": "use AIRWAVE_ICECAST_SOURCE_PASSWORD",
		"REDIS_HOST":              "use AIRWAVE_REDIS_ADDR",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// legacyRedisAddr assembles REDIS_HOST/REDIS_PORT into an address.
func legacyRedisAddr() string {
	host := getEnvAny([]string{"REDIS_HOST"}, "localhost")
	port := getEnvIntAny([]string{"REDIS_PORT"}, 6379)
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.TrimRight(p, "/"))
		}
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
