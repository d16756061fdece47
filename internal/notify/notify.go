// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify publishes ingested-message events to Redis. The app
// layer (agent notifications, widget websockets, AI enrichment workers)
// consumes them from the list; this side only fires and forgets.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crewdesk/ingestion/internal/store"
)

// DefaultQueue is the Redis list downstream workers consume from.
const DefaultQueue = "crewdesk:events"

// Publisher pushes message-ingested events onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the given list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{rdb: rdb, queueName: queueName}
}

// messageEvent is the wire shape downstream consumers read.
type messageEvent struct {
	Event      string    `json:"event"`
	OrgID      string    `json:"orgId"`
	TicketID   string    `json:"ticketId"`
	ThreadID   string    `json:"threadId"`
	MessageID  string    `json:"messageId"`
	Channel    string    `json:"channel"`
	AuthorType string    `json:"authorType"`
	AuthorID   string    `json:"authorId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageIngested publishes one event per stored message. Publish
// failures are logged and dropped; the message itself is already
// persisted and notification delivery is best-effort.
func (p *Publisher) MessageIngested(ctx context.Context, orgID, ticketID string, m *store.Message) {
	event := messageEvent{
		Event:      "message.ingested",
		OrgID:      orgID,
		TicketID:   ticketID,
		ThreadID:   m.ThreadID,
		MessageID:  m.ID,
		Channel:    string(m.Channel),
		AuthorType: string(m.AuthorType),
		AuthorID:   m.AuthorID,
		CreatedAt:  m.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal message event", "error", err)
		return
	}
	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		slog.Warn("publish message event failed",
			"message_id", m.ID,
			"error", err,
		)
	}
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
