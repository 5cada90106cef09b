/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/config"
)

// Library owns the sound directory (queued tracks) and the temp directory
// (uploads in flight and live-stream scratch files). It is the only component
// that deletes audio files.
type Library struct {
	sound  *FilesystemStorage
	temp   *FilesystemStorage
	grace  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewLibrary creates a library from configuration. Call Init before use.
func NewLibrary(cfg *config.Config, logger zerolog.Logger) *Library {
	logger = logger.With().Str("component", "media").Logger()
	return &Library{
		sound:   NewFilesystemStorage(cfg.SoundDir, logger),
		temp:    NewFilesystemStorage(cfg.TempDir, logger),
		grace:   cfg.CleanupGrace,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}
}

// Init creates both directories and wipes leftovers from a previous run.
func (l *Library) Init(ctx context.Context) error {
	if err := l.sound.Ensure(); err != nil {
		return err
	}
	if err := l.temp.Ensure(); err != nil {
		return err
	}
	for _, fs := range []*FilesystemStorage{l.sound, l.temp} {
		n, err := fs.Purge(ctx)
		if err != nil {
			l.logger.Warn().Err(err).Str("dir", fs.Root()).Msg("startup purge incomplete")
		}
		if n > 0 {
			l.logger.Info().Int("removed", n).Str("dir", fs.Root()).Msg("removed stale files")
		}
	}
	return nil
}

// SoundDir returns the absolute sound directory.
func (l *Library) SoundDir() string { return l.sound.Root() }

// TempDir returns the absolute temp directory.
func (l *Library) TempDir() string { return l.temp.Root() }

// Import copies src into the sound directory under name and removes src once
// the copy is complete. A copy failure leaves src untouched.
func (l *Library) Import(ctx context.Context, src, name string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	dest, err := l.sound.Store(ctx, name, f)
	f.Close()
	if err != nil {
		return "", err
	}

	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		l.logger.Warn().Err(err).Str("path", src).Msg("failed to remove import source")
	}
	return dest, nil
}

// ImportStream writes r into the sound directory under name.
func (l *Library) ImportStream(ctx context.Context, r io.Reader, name string) (string, error) {
	return l.sound.Store(ctx, name, r)
}

// WriteTemp stores data in the temp directory under a unique name with the given extension.
func (l *Library) WriteTemp(ctx context.Context, data []byte, ext string) (string, error) {
	return l.WriteTempStream(ctx, bytes.NewReader(data), ext)
}

// WriteTempStream is WriteTemp for readers.
func (l *Library) WriteTempStream(ctx context.Context, r io.Reader, ext string) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	name := fmt.Sprintf("%d-%s.%s", time.Now().UnixMilli(), uuid.NewString()[:8], ext)
	return l.temp.Store(ctx, name, r)
}

// Remove deletes a file in either directory immediately. Failures are logged
// and swallowed; a missing file is fine.
func (l *Library) Remove(path string) {
	if path == "" {
		return
	}
	l.CancelCleanup(path)

	var err error
	switch {
	case l.sound.Contains(path):
		err = l.sound.Delete(context.Background(), path)
	case l.temp.Contains(path):
		err = l.temp.Delete(context.Background(), path)
	default:
		err = fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("file removal failed")
	}
}

// ScheduleCleanup deletes path after the grace period. Scheduling the same
// path again replaces the earlier timer. It never blocks.
func (l *Library) ScheduleCleanup(path string) {
	if path == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if old, ok := l.pending[path]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(l.grace, func() {
		l.mu.Lock()
		current, ok := l.pending[path]
		if !ok || current != timer {
			l.mu.Unlock()
			return
		}
		delete(l.pending, path)
		l.mu.Unlock()

		if err := l.sound.Delete(context.Background(), path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("deferred cleanup failed")
			return
		}
		l.logger.Debug().Str("path", path).Msg("finished track removed")
	})
	l.pending[path] = timer
}

// CancelCleanup drops a pending deferred deletion for path.
func (l *Library) CancelCleanup(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.pending[path]; ok {
		t.Stop()
		delete(l.pending, path)
	}
}

// CancelCleanups drops every pending deferred deletion.
func (l *Library) CancelCleanups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pending)
	for path, t := range l.pending {
		t.Stop()
		delete(l.pending, path)
	}
	return n
}

// PendingCleanups reports how many deferred deletions are outstanding.
func (l *Library) PendingCleanups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// PurgeAll cancels pending cleanups and deletes every file in the sound
// directory before returning.
func (l *Library) PurgeAll(ctx context.Context) (int, error) {
	cancelled := l.CancelCleanups()
	removed, err := l.sound.Purge(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("sound directory purge incomplete")
	}
	l.logger.Info().Int("removed", removed).Int("cancelled_cleanups", cancelled).Msg("sound directory purged")
	return removed, err
}

// Close stops all pending timers. Files are left in place.
func (l *Library) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.CancelCleanups()
	return nil
}
