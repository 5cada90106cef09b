/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"fmt"
	"slices"
	"strconv"
)

// EncoderConfig describes the MP3 output of a transcode.
type EncoderConfig struct {
	Bitrate    int // kbps, constant
	SampleRate int // Hz
	Channels   int // 1 = mono, 2 = stereo

	// RealTime reads input at its native rate (ffmpeg -re) so the output
	// is produced at playback speed.
	RealTime bool
}

var validSampleRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000}

// LiveVoiceProfile is the fixed encoding used for the live voice relay.
func LiveVoiceProfile() EncoderConfig {
	return EncoderConfig{
		Bitrate:    128,
		SampleRate: 44100,
		Channels:   2,
		RealTime:   true,
	}
}

// EncoderBuilder turns an EncoderConfig into ffmpeg arguments.
type EncoderBuilder struct {
	config EncoderConfig
}

// NewEncoderBuilder fills unset fields from the live voice profile.
func NewEncoderBuilder(config EncoderConfig) *EncoderBuilder {
	def := LiveVoiceProfile()
	if config.Bitrate == 0 {
		config.Bitrate = def.Bitrate
	}
	if config.SampleRate == 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Channels == 0 {
		config.Channels = def.Channels
	}
	return &EncoderBuilder{config: config}
}

// Config returns the effective configuration.
func (eb *EncoderBuilder) Config() EncoderConfig {
	return eb.config
}

// ContentType is the MIME type of the encoded stream.
func (eb *EncoderBuilder) ContentType() string {
	return "audio/mpeg"
}

// Args builds the ffmpeg argument list reading input and writing CBR MP3 to
// stdout. Progress is reported on stderr.
func (eb *EncoderBuilder) Args(input string) ([]string, error) {
	if err := eb.ValidateConfig(); err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if eb.config.RealTime {
		args = append(args, "-re")
	}
	bitrate := strconv.Itoa(eb.config.Bitrate) + "k"
	return append(args,
		"-i", input, "-vn",
		// CBR keeps Icecast listeners' buffers predictable
		"-c:a", "libmp3lame", "-b:a", bitrate, "-minrate", bitrate, "-maxrate", bitrate,
		"-ac", strconv.Itoa(eb.config.Channels),
		"-ar", strconv.Itoa(eb.config.SampleRate),
		"-f", "mp3",
		"-progress", "pipe:2",
		"-nostats",
		"pipe:1",
	), nil
}

// ValidateConfig checks the values libmp3lame accepts.
func (eb *EncoderBuilder) ValidateConfig() error {
	if eb.config.Bitrate < 8 || eb.config.Bitrate > 320 {
		return fmt.Errorf("bitrate must be between 8 and 320 kbps, got: %d", eb.config.Bitrate)
	}
	if !slices.Contains(validSampleRates, eb.config.SampleRate) {
		return fmt.Errorf("invalid sample rate: %d (must be one of: %v)", eb.config.SampleRate, validSampleRates)
	}
	if eb.config.Channels != 1 && eb.config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got: %d", eb.config.Channels)
	}
	return nil
}
