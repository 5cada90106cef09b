/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"sync"

	"github.com/friendsincode/airwave/internal/models"
)

// JobStore keeps the durable copy of the queue: an ordered list of waiting
// tracks and at most one active track. The Queue owns ordering decisions;
// the store only records them.
type JobStore interface {
	// Submit appends a waiting track.
	Submit(ctx context.Context, t *models.Track) error
	// Activate records t as the active job.
	Activate(ctx context.Context, t *models.Track) error
	// Promote pops the head of the waiting list and makes it active.
	// It returns nil when nothing is waiting.
	Promote(ctx context.Context) (*models.Track, error)
	// Complete clears the active job if it matches id.
	Complete(ctx context.Context, id int64) error
	Active(ctx context.Context) (*models.Track, error)
	Waiting(ctx context.Context) ([]*models.Track, error)
	// DrainWaiting removes every waiting job and reports how many there were.
	DrainWaiting(ctx context.Context) (int, error)
}

// MemoryStore is a JobStore held in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	active  *models.Track
	waiting []*models.Track
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Submit(_ context.Context, t *models.Track) error {
	m.mu.Lock()
	m.waiting = append(m.waiting, t.Clone())
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Activate(_ context.Context, t *models.Track) error {
	m.mu.Lock()
	m.active = t.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Promote(_ context.Context) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waiting) == 0 {
		return nil, nil
	}
	next := m.waiting[0]
	m.waiting[0] = nil
	m.waiting = m.waiting[1:]
	next.Status = models.TrackPlaying
	m.active = next
	return next.Clone(), nil
}

func (m *MemoryStore) Complete(_ context.Context, id int64) error {
	m.mu.Lock()
	if m.active != nil && m.active.ID == id {
		m.active = nil
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Active(_ context.Context) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Clone(), nil
}

func (m *MemoryStore) Waiting(_ context.Context) ([]*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Track, 0, len(m.waiting))
	for _, t := range m.waiting {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (m *MemoryStore) DrainWaiting(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.waiting)
	m.waiting = nil
	return n, nil
}
