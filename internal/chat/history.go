/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package chat

import (
	"sync"

	"github.com/friendsincode/airwave/internal/models"
)

// History is a thread-safe ring buffer of chat messages. When full, the
// oldest message is overwritten.
type History struct {
	mu       sync.RWMutex
	entries  []models.ChatMessage
	capacity int
	head     int
	count    int
}

// NewHistory creates a history holding up to capacity messages.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{
		entries:  make([]models.ChatMessage, capacity),
		capacity: capacity,
	}
}

// Add appends a message.
func (h *History) Add(msg models.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.head] = msg
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
}

// All returns every stored message, oldest first.
func (h *History) All() []models.ChatMessage {
	return h.Last(0)
}

// Last returns the newest n messages, oldest first. n <= 0 means all.
func (h *History) Last(n int) []models.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	result := make([]models.ChatMessage, n)

	start := 0
	if h.count == h.capacity {
		start = h.head
	}
	skip := h.count - n
	for i := 0; i < n; i++ {
		result[i] = h.entries[(start+skip+i)%h.capacity]
	}
	return result
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
