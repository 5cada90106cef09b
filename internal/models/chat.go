/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ChatUser identifies the author of a chat message.
type ChatUser struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ChatMessage is a single listener chat line.
type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	User      ChatUser  `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}
