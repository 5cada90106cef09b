/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"sync/atomic"
	"time"
)

// TrackStatus is the playback lifecycle state of a track.
type TrackStatus string

const (
	TrackWaiting  TrackStatus = "waiting"
	TrackPlaying  TrackStatus = "playing"
	TrackFinished TrackStatus = "finished"
)

// Track is a unit of playback.
type Track struct {
	ID              int64       `json:"id"`
	FilePath        string      `json:"filePath"`
	FileName        string      `json:"fileName"`
	Title           string      `json:"title"`
	DurationSeconds float64     `json:"duration"`
	Status          TrackStatus `json:"status"`
	SubmittedAt     time.Time   `json:"submittedAt"`
}

// Duration returns the playback length. Non-positive durations collapse to zero.
func (t *Track) Duration() time.Duration {
	if t == nil || t.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(t.DurationSeconds * float64(time.Second))
}

// Clone returns a copy safe to hand to readers outside the queue lock.
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

var lastTrackID atomic.Int64

// NextTrackID returns a millisecond timestamp that is strictly greater than
// every ID handed out before it in this process.
func NextTrackID(now time.Time) int64 {
	candidate := now.UnixMilli()
	for {
		last := lastTrackID.Load()
		if candidate <= last {
			candidate = last + 1
		}
		if lastTrackID.CompareAndSwap(last, candidate) {
			return candidate
		}
	}
}

// QueueSnapshot is the read-only view exposed by the inspection API.
type QueueSnapshot struct {
	Current *Track   `json:"current"`
	Queue   []*Track `json:"queue"`
	Total   int      `json:"total"`
}
