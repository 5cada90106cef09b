/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package chat implements the listener chat: a bounded in-memory history
// broadcast over the event broker.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/models"
	"github.com/friendsincode/airwave/internal/telemetry"
)

const (
	HistorySize     = 100
	RecentSize      = 50
	MaxContentRunes = 1000
)

// ErrInvalidMessage is returned for messages that fail validation.
var ErrInvalidMessage = errors.New("invalid chat message")

// Service stores chat messages and publishes them on the broker.
type Service struct {
	history *History
	bus     events.Broker
	logger  zerolog.Logger
}

// NewService creates a chat service seeded with a welcome message.
func NewService(bus events.Broker, logger zerolog.Logger) *Service {
	s := &Service{
		history: NewHistory(HistorySize),
		bus:     bus,
		logger:  logger.With().Str("component", "chat").Logger(),
	}
	s.history.Add(models.ChatMessage{
		ID:        "welcome",
		Content:   "Welcome to the radio chat!",
		User:      models.ChatUser{Name: "System"},
		Timestamp: time.Now().UTC(),
	})
	return s
}

// Save validates and stores a message, then broadcasts it.
func (s *Service) Save(user models.ChatUser, content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	user.Name = strings.TrimSpace(user.Name)

	switch {
	case content == "":
		return models.ChatMessage{}, fmt.Errorf("%w: message content must not be empty", ErrInvalidMessage)
	case user.Name == "":
		return models.ChatMessage{}, fmt.Errorf("%w: user name is required", ErrInvalidMessage)
	case utf8.RuneCountInString(content) > MaxContentRunes:
		return models.ChatMessage{}, fmt.Errorf("%w: message longer than %d characters", ErrInvalidMessage, MaxContentRunes)
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Content:   content,
		User:      user,
		Timestamp: time.Now().UTC(),
	}
	s.history.Add(msg)
	telemetry.ChatMessagesTotal.Inc()

	s.bus.Publish(events.EventChatMessage, messagePayload(msg))
	s.logger.Debug().Str("id", msg.ID).Str("user", user.Name).Msg("chat message saved")
	return msg, nil
}

// Recent returns the latest messages, oldest first.
func (s *Service) Recent() []models.ChatMessage {
	return s.history.Last(RecentSize)
}

func messagePayload(msg models.ChatMessage) events.Payload {
	return events.Payload{
		"id":        msg.ID,
		"content":   msg.Content,
		"user":      msg.User,
		"timestamp": msg.Timestamp,
	}
}
