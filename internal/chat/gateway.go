/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/models"
	"github.com/friendsincode/airwave/internal/telemetry"
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type incomingMessage struct {
	User    models.ChatUser `json:"user"`
	Content string          `json:"content"`
}

// Gateway serves the chat websocket.
type Gateway struct {
	svc         *Service
	bus         events.Broker
	checkOrigin func(*http.Request) bool
	pingEvery   time.Duration
	logger      zerolog.Logger
}

// NewGateway creates a gateway. checkOrigin may be nil to accept any origin.
func NewGateway(svc *Service, bus events.Broker, checkOrigin func(*http.Request) bool, logger zerolog.Logger) *Gateway {
	return &Gateway{
		svc:         svc,
		bus:         bus,
		checkOrigin: checkOrigin,
		pingEvery:   30 * time.Second,
		logger:      logger.With().Str("component", "chat-gateway").Logger(),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.checkOrigin != nil && !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Origin was checked above against the configured CORS policy.
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		g.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.WithLabelValues("chat").Inc()
	defer telemetry.APIWebSocketConnections.WithLabelValues("chat").Dec()

	sub := g.bus.Subscribe(events.EventChatMessage)
	defer g.bus.Unsubscribe(events.EventChatMessage, sub)

	ctx := r.Context()
	g.logger.Debug().Str("remote", r.RemoteAddr).Msg("chat client connected")
	defer g.logger.Debug().Str("remote", r.RemoteAddr).Msg("chat client disconnected")

	if err := writeFrame(ctx, conn, "recent-messages", g.svc.Recent()); err != nil {
		g.logger.Debug().Err(err).Msg("failed to send history")
		return
	}

	incoming := make(chan Frame, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) != ws.StatusNormalClosure && ws.CloseStatus(err) != ws.StatusGoingAway {
					g.logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				f = Frame{Event: "invalid"}
			}
			select {
			case incoming <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(g.pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "")
			return

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				g.logger.Debug().Err(err).Msg("ping failed")
				conn.Close(ws.StatusGoingAway, "ping timeout")
				return
			}

		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			if err := writeFrame(ctx, conn, "message", payload); err != nil {
				g.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case f := <-incoming:
			if err := g.handle(f); err != nil {
				if werr := writeFrame(ctx, conn, "error", reason(err)); werr != nil {
					return
				}
			}
		}
	}
}

func (g *Gateway) handle(f Frame) error {
	if f.Event != "message" {
		return errors.New("unsupported event")
	}
	var in incomingMessage
	if len(f.Data) == 0 || json.Unmarshal(f.Data, &in) != nil {
		return errors.New("malformed message")
	}
	_, err := g.svc.Save(in.User, in.Content)
	if err != nil {
		g.logger.Debug().Err(err).Msg("chat message rejected")
	}
	return err
}

// reason strips the sentinel prefix so clients see only the cause.
func reason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidMessage.Error()+": ")
}

func writeFrame(ctx context.Context, conn *ws.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	out, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, ws.MessageText, out)
}
