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

// Package dedup suppresses duplicate inbound messages. Two layers: a
// Redis SETNX filter that drops provider redeliveries before any work
// happens, and a store-backed guard that catches exact and near
// duplicates at ingestion time.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

const (
	// DefaultTTL is how long a delivery id is remembered. Providers
	// retry webhooks for at most a few hours, so 24h is safe.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces seen-delivery keys in Redis.
	keyPrefix = "crewdesk:seen:"

	// ContentWindow is the trailing window in which a byte-identical
	// message from the same author counts as a duplicate.
	ContentWindow = 2 * time.Minute
)

// Filter tracks which delivery ids have already been accepted.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a redelivery filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the delivery id has NOT been seen before.
// If true, the id is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, deliveryID string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, deliveryID)

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget clears a delivery id that was marked seen but could not be
// handed off, so a later cycle can re-accept it.
func (f *Filter) Forget(ctx context.Context, deliveryID string) error {
	return f.rdb.Del(ctx, keyPrefix+deliveryID).Err()
}

// MessageIndex is the stored-message lookup surface the guard needs.
// Implemented by store.Store.
type MessageIndex interface {
	FindMessageByExternalID(ctx context.Context, orgID, externalID string) (*store.Message, error)
	FindRecentDuplicate(ctx context.Context, orgID, authorID, threadID, content string, window time.Duration) (*store.Message, error)
}

// Guard detects duplicates against persisted messages. Exact duplicates
// share a provider message id; near duplicates are byte-identical
// content from the same author inside ContentWindow.
type Guard struct {
	idx    MessageIndex
	window time.Duration
}

// NewGuard creates a duplicate guard over the message index.
func NewGuard(idx MessageIndex) *Guard {
	return &Guard{idx: idx, window: ContentWindow}
}

// Duplicate returns the stored message this one duplicates, or nil.
// threadID scopes the content check to the resolved conversation; pass
// "" for messages that would start a new ticket.
func (g *Guard) Duplicate(ctx context.Context, orgID, authorID, threadID string, msg *models.CanonicalMessage) (*store.Message, error) {
	if id := strings.Trim(strings.TrimSpace(msg.ExternalID), "<>"); id != "" {
		m, err := g.idx.FindMessageByExternalID(ctx, orgID, id)
		if err != nil {
			return nil, fmt.Errorf("external id lookup: %w", err)
		}
		if m != nil {
			return m, nil
		}
	}

	if msg.Content == "" {
		return nil, nil
	}
	m, err := g.idx.FindRecentDuplicate(ctx, orgID, authorID, threadID, msg.Content, g.window)
	if err != nil {
		return nil, fmt.Errorf("content lookup: %w", err)
	}
	return m, nil
}
