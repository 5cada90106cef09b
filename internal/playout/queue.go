/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/models"
	"github.com/friendsincode/airwave/internal/telemetry"
)

// FileManager is the part of the media library the queue depends on.
type FileManager interface {
	ScheduleCleanup(path string)
	Remove(path string)
	PurgeAll(ctx context.Context) (int, error)
}

// Options tune queue behaviour.
type Options struct {
	// ClearStopsPlayback makes Clear abort the playing track and delete
	// its file along with everything else.
	ClearStopsPlayback bool
	// StoreTimeout bounds each JobStore call. Zero means 2 seconds.
	StoreTimeout time.Duration
}

// Queue plays tracks one at a time in submission order, each for its real
// duration. The in-memory state is authoritative; the JobStore mirrors it.
//
// Invariant: current == nil implies waiting is empty. Every transition that
// clears current promotes the next waiting track in the same critical section.
// Store calls are recorded under mu and executed after it is released, in
// the order they were recorded.
type Queue struct {
	store  JobStore
	files  FileManager
	bus    events.Broker
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	current   *models.Track
	waiting   []*models.Track
	interrupt chan struct{}
	pending   []storeOp

	// mirrorMu serializes flushes so the store sees operations in order.
	mirrorMu sync.Mutex

	wake chan struct{}
}

type storeOp struct {
	name string
	fn   func(context.Context) error
}

// NewQueue creates a queue. Call Run to start playback.
func NewQueue(store JobStore, files FileManager, bus events.Broker, opts Options, logger zerolog.Logger) *Queue {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	return &Queue{
		store:  store,
		files:  files,
		bus:    bus,
		opts:   opts,
		logger: logger.With().Str("component", "playout").Logger(),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue accepts a track. If nothing is playing it starts immediately and
// never appears in the waiting list; otherwise it joins the tail.
func (q *Queue) Enqueue(ctx context.Context, t *models.Track) error {
	if t == nil {
		return errors.New("nil track")
	}
	if t.ID == 0 {
		t.ID = models.NextTrackID(time.Now())
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now().UTC()
	}

	q.mu.Lock()
	startedNow := q.current == nil
	if startedNow {
		t.Status = models.TrackPlaying
		q.current = t
		q.interrupt = make(chan struct{})
	} else {
		t.Status = models.TrackWaiting
		q.waiting = append(q.waiting, t)
	}
	snapshot := t.Clone()
	if startedNow {
		q.mirrorLocked("activate", func(c context.Context) error { return q.store.Activate(c, snapshot) })
	} else {
		q.mirrorLocked("submit", func(c context.Context) error { return q.store.Submit(c, snapshot) })
	}
	q.updateGaugesLocked()
	q.mu.Unlock()
	q.flushMirror(ctx)

	q.bus.Publish(events.EventTrackEnqueued, trackPayload(snapshot))
	if startedNow {
		q.logger.Info().Str("title", t.Title).Float64("duration", t.DurationSeconds).Msg("starting playback")
		q.bus.Publish(events.EventTrackPlaying, trackPayload(snapshot))
	} else {
		q.logger.Info().Str("title", t.Title).Msg("track queued")
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run is the single playback consumer. It returns when ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info().Msg("playback queue started")
	defer q.logger.Info().Msg("playback queue stopped")

	for {
		q.mu.Lock()
		track, interrupt := q.current, q.interrupt
		q.mu.Unlock()

		if track == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		if err := q.play(ctx, track, interrupt); err != nil {
			return err
		}
	}
}

// play waits out one track without holding the lock, then finishes it.
func (q *Queue) play(ctx context.Context, track *models.Track, interrupt <-chan struct{}) error {
	timer := time.NewTimer(track.Duration())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-interrupt:
		// Clear already moved the track to Finished.
		return nil
	case <-timer.C:
	}

	q.finish(ctx, track, "completed")
	return nil
}

// finish marks track Finished, schedules its file for deletion and promotes
// the next waiting track. A panic here is logged and the track is still
// forced out so the queue keeps moving.
func (q *Queue) finish(ctx context.Context, track *models.Track, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.TrackErrorsTotal.WithLabelValues("finish").Inc()
			q.logger.Error().Interface("panic", r).Msg("recovered from panic while finishing track")
			q.forceAdvance(track)
		}
	}()

	finished, next, ok := q.advance(track)
	if !ok {
		return
	}
	q.flushMirror(ctx)

	telemetry.TracksPlayedTotal.WithLabelValues(outcome).Inc()
	q.files.ScheduleCleanup(track.FilePath)
	q.bus.Publish(events.EventTrackFinished, trackPayload(finished))
	q.logger.Info().Str("title", track.Title).Msg("track finished")

	if next != nil {
		q.bus.Publish(events.EventTrackPlaying, trackPayload(next))
		q.logger.Info().Str("title", next.Title).Float64("duration", next.DurationSeconds).Msg("starting playback")
	}
}

// advance moves track to Finished and promotes the waiting head. ok is false
// when track is no longer the current one.
func (q *Queue) advance(track *models.Track) (finished, next *models.Track, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != track {
		return nil, nil, false
	}
	track.Status = models.TrackFinished
	finishedID := track.ID
	q.mirrorLocked("complete", func(c context.Context) error { return q.store.Complete(c, finishedID) })
	next = q.promoteLocked()
	q.updateGaugesLocked()
	return track.Clone(), next, true
}

// forceAdvance is the recovery path for finish: no store calls, no events.
func (q *Queue) forceAdvance(track *models.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if track == nil {
		return
	}
	track.Status = models.TrackFinished
	if q.current == track {
		q.current = nil
		if len(q.waiting) > 0 {
			head := q.waiting[0]
			q.waiting = q.waiting[1:]
			head.Status = models.TrackPlaying
			q.current = head
			q.interrupt = make(chan struct{})
		}
	}
	q.updateGaugesLocked()
}

// promoteLocked moves the waiting head into current. Caller holds q.mu.
func (q *Queue) promoteLocked() *models.Track {
	q.current = nil
	if len(q.waiting) == 0 {
		return nil
	}
	head := q.waiting[0]
	q.waiting[0] = nil
	q.waiting = q.waiting[1:]
	head.Status = models.TrackPlaying
	q.current = head
	q.interrupt = make(chan struct{})
	promoted := head.Clone()

	q.mirrorLocked("promote", func(c context.Context) error {
		mirrored, err := q.store.Promote(c)
		if err != nil {
			return err
		}
		if mirrored == nil || mirrored.ID != promoted.ID {
			// Mirror drifted; overwrite with the authoritative head.
			return q.store.Activate(c, promoted)
		}
		return nil
	})
	return promoted
}

// ClearResult summarizes a Clear call.
type ClearResult struct {
	DroppedWaiting int  `json:"droppedWaiting"`
	StoppedCurrent bool `json:"stoppedCurrent"`
	FilesRemoved   int  `json:"filesRemoved"`
}

// Clear empties the queue. With ClearStopsPlayback the playing track is
// aborted and the whole sound directory is purged before Clear returns.
// Otherwise only waiting tracks and their files are dropped.
func (q *Queue) Clear(ctx context.Context) (ClearResult, error) {
	var res ClearResult

	q.mu.Lock()
	dropped := q.waiting
	q.waiting = nil
	for _, t := range dropped {
		t.Status = models.TrackFinished
	}
	res.DroppedWaiting = len(dropped)
	q.mirrorLocked("drain", func(c context.Context) error {
		_, err := q.store.DrainWaiting(c)
		return err
	})

	var stopped *models.Track
	if q.opts.ClearStopsPlayback && q.current != nil {
		stopped = q.current
		stopped.Status = models.TrackFinished
		stoppedID := stopped.ID
		q.current = nil
		close(q.interrupt)
		q.interrupt = nil
		q.mirrorLocked("complete", func(c context.Context) error { return q.store.Complete(c, stoppedID) })
		res.StoppedCurrent = true
	}
	q.updateGaugesLocked()
	q.mu.Unlock()
	q.flushMirror(ctx)

	var purgeErr error
	if q.opts.ClearStopsPlayback {
		res.FilesRemoved, purgeErr = q.files.PurgeAll(ctx)
		telemetry.TracksPlayedTotal.WithLabelValues("stopped").Add(float64(boolToInt(stopped != nil)))
	} else {
		for _, t := range dropped {
			q.files.Remove(t.FilePath)
		}
		res.FilesRemoved = len(dropped)
	}

	if stopped != nil {
		q.bus.Publish(events.EventTrackFinished, trackPayload(stopped.Clone()))
	}
	q.bus.Publish(events.EventQueueCleared, events.Payload{
		"droppedWaiting": res.DroppedWaiting,
		"stoppedCurrent": res.StoppedCurrent,
	})
	q.logger.Info().
		Int("dropped", res.DroppedWaiting).
		Bool("stopped_current", res.StoppedCurrent).
		Int("files_removed", res.FilesRemoved).
		Msg("queue cleared")

	if purgeErr != nil {
		return res, fmt.Errorf("purge sound directory: %w", purgeErr)
	}
	return res, nil
}

// Current returns the playing track or nil.
func (q *Queue) Current() *models.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current.Clone()
}

// Waiting returns the waiting tracks in play order.
func (q *Queue) Waiting() []*models.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneTracks(q.waiting)
}

// Snapshot returns the current and waiting tracks in one consistent read.
func (q *Queue) Snapshot() models.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueSnapshot{
		Current: q.current.Clone(),
		Queue:   cloneTracks(q.waiting),
		Total:   len(q.waiting),
	}
}

// mirrorLocked records a store operation. Caller holds q.mu.
func (q *Queue) mirrorLocked(op string, fn func(context.Context) error) {
	q.pending = append(q.pending, storeOp{name: op, fn: fn})
}

// flushMirror runs recorded store operations without holding q.mu, so a slow
// store delays only the caller and never readers of the queue.
func (q *Queue) flushMirror(ctx context.Context) {
	q.mirrorMu.Lock()
	defer q.mirrorMu.Unlock()

	q.mu.Lock()
	ops := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, op := range ops {
		q.storeCall(ctx, op.name, op.fn)
	}
}

// storeCall runs a JobStore operation with a bounded context. Store errors
// never block playback; they are logged and counted.
func (q *Queue) storeCall(ctx context.Context, op string, fn func(context.Context) error) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.opts.StoreTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			telemetry.TrackErrorsTotal.WithLabelValues("store_" + op).Inc()
			q.logger.Error().Interface("panic", r).Str("op", op).Msg("recovered from panic in job store")
		}
	}()
	if err := fn(c); err != nil {
		telemetry.TrackErrorsTotal.WithLabelValues("store_" + op).Inc()
		q.logger.Warn().Err(err).Str("op", op).Msg("job store call failed")
	}
}

func (q *Queue) updateGaugesLocked() {
	telemetry.QueueDepth.Set(float64(len(q.waiting)))
	telemetry.QueuePlaying.Set(float64(boolToInt(q.current != nil)))
}

func cloneTracks(in []*models.Track) []*models.Track {
	out := make([]*models.Track, 0, len(in))
	for _, t := range in {
		out = append(out, t.Clone())
	}
	return out
}

func trackPayload(t *models.Track) events.Payload {
	return events.Payload{
		"id":       t.ID,
		"title":    t.Title,
		"fileName": t.FileName,
		"duration": t.DurationSeconds,
		"status":   string(t.Status),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
