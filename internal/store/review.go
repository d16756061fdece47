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

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/ingestion/internal/models"
)

// ReviewEntry statuses.
const (
	ReviewPending  = "pending"
	ReviewResolved = "resolved"
	ReviewIgnored  = "ignored"
)

// ReviewEntry records an inbound event that could not be resolved to a
// tenant or otherwise failed irrecoverably. Surfaced to operators; never
// retried automatically.
type ReviewEntry struct {
	ID            string
	Channel       models.Channel
	Reason        string
	RawPayload    string
	SenderHint    string
	RecipientHint string
	ContentHint   string
	Status        string
	CreatedAt     time.Time
}

// InsertReviewEntry persists a manual-review entry.
func (s *Store) InsertReviewEntry(ctx context.Context, e *ReviewEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = ReviewPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO manual_review
			(id, channel, reason, raw_payload, sender_hint, recipient_hint, content_hint, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.Channel, e.Reason, e.RawPayload, e.SenderHint, e.RecipientHint,
		e.ContentHint, e.Status)
	return err
}
