/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/telemetry"
)

type queueEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// handleEvents streams playback state changes. Clients may narrow the stream
// with ?types=track.playing,queue.cleared.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.checkOrigin != nil && !a.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin_not_allowed", "origin is not allowed")
		return
	}

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.QueueEvents
	}
	for _, et := range eventTypes {
		if !slices.Contains(events.QueueEvents, et) {
			writeError(w, http.StatusBadRequest, "unknown_event_type", "types must list queue events only")
			return
		}
	}

	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")
	// Listeners never send; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx = conn.CloseRead(ctx)

	telemetry.APIWebSocketConnections.WithLabelValues("events").Inc()
	defer telemetry.APIWebSocketConnections.WithLabelValues("events").Dec()

	merged := make(chan queueEvent, 16)
	fanCtx, stopFan := context.WithCancel(ctx)
	defer stopFan()
	for _, et := range eventTypes {
		sub := a.bus.Subscribe(et)
		defer a.bus.Unsubscribe(et, sub)
		go func(et events.EventType, sub events.Subscriber) {
			for {
				select {
				case <-fanCtx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- queueEvent{eventType: et, payload: payload}:
					case <-fanCtx.Done():
						return
					}
				}
			}
		}(et, sub)
	}

	if err := a.writeEvent(ctx, conn, "queue.snapshot", a.queue.Snapshot()); err != nil {
		a.logger.Debug().Err(err).Msg("websocket snapshot write failed")
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusGoingAway, "write failed")
				return
			}
		case ev := <-merged:
			if err := a.writeEvent(ctx, conn, string(ev.eventType), ev.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				conn.Close(ws.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType string, payload any) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, ws.MessageText, data)
}
