/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/friendsincode/airwave/internal/config"
	"github.com/friendsincode/airwave/internal/models"
)

type mirrorView struct {
	Active  *models.Track   `json:"active"`
	Waiting []*models.Track `json:"waiting"`
}

type queuesReport struct {
	Backend     config.QueueBackend  `json:"backend"`
	Memory      models.QueueSnapshot `json:"memory"`
	Mirror      *mirrorView          `json:"mirror,omitempty"`
	MirrorError string               `json:"mirrorError,omitempty"`
	InSync      bool                 `json:"inSync"`
}

// handleQueues is the operator view of the job store: the mirrored jobs next
// to the in-memory queue they follow. inSync can read false for a moment
// while a transition is still being written to the store.
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := queuesReport{
		Backend: s.storeBackend,
		Memory:  s.queue.Snapshot(),
	}

	active, err := s.store.Active(ctx)
	var waiting []*models.Track
	if err == nil {
		waiting, err = s.store.Waiting(ctx)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("backend", string(s.storeBackend)).Msg("job store read failed")
		report.MirrorError = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}

	report.Mirror = &mirrorView{Active: active, Waiting: waiting}
	report.InSync = sameJobs(report.Memory, active, waiting)
	writeJSON(w, http.StatusOK, report)
}

func sameJobs(mem models.QueueSnapshot, active *models.Track, waiting []*models.Track) bool {
	if (mem.Current == nil) != (active == nil) {
		return false
	}
	if mem.Current != nil && mem.Current.ID != active.ID {
		return false
	}
	if len(mem.Queue) != len(waiting) {
		return false
	}
	for i := range waiting {
		if mem.Queue[i].ID != waiting[i].ID {
			return false
		}
	}
	return true
}
