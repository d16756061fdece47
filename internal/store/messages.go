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
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/crewdesk/ingestion/internal/models"
)

// Message is a stored inbound or outbound message. Immutable once created.
type Message struct {
	ID          string
	OrgID       string
	ThreadID    string
	Channel     models.Channel
	AuthorType  models.AuthorType
	AuthorID    string
	Content     string
	RawBody     string
	ExternalID  string
	Attachments []models.Attachment
	CreatedAt   time.Time
}

const messageColumns = `id, org_id, thread_id, channel, author_type, author_id, content, raw_body, external_id, attachments, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var attachments []byte
	err := row.Scan(&m.ID, &m.OrgID, &m.ThreadID, &m.Channel, &m.AuthorType,
		&m.AuthorID, &m.Content, &m.RawBody, &m.ExternalID, &attachments, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		_ = json.Unmarshal(attachments, &m.Attachments)
	}
	return &m, nil
}

// InsertMessage persists a message.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	if m.Attachments == nil {
		attachments = []byte("[]")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages
			(id, org_id, thread_id, channel, author_type, author_id, content, raw_body, external_id, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.OrgID, m.ThreadID, m.Channel, m.AuthorType, m.AuthorID,
		m.Content, m.RawBody, m.ExternalID, attachments)
	return err
}

// FindMessageByExternalID looks up a stored message by its provider
// message identifier, scoped to the tenant.
func (s *Store) FindMessageByExternalID(ctx context.Context, orgID, externalID string) (*Message, error) {
	if externalID == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE org_id = $1 AND external_id = $2
		ORDER BY created_at
		LIMIT 1
	`, orgID, externalID)
	return scanMessage(row)
}

// FindRecentDuplicate returns a message from the same author with
// byte-identical content created within the trailing window. When threadID
// is non-empty the search is confined to that thread; otherwise it spans
// all of the author's messages (new-ticket attempts).
func (s *Store) FindRecentDuplicate(ctx context.Context, orgID, authorID, threadID, content string, window time.Duration) (*Message, error) {
	cutoff := time.Now().Add(-window)
	if threadID != "" {
		row := s.pool.QueryRow(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE org_id = $1 AND author_id = $2 AND thread_id = $3
			  AND content = $4 AND created_at >= $5
			ORDER BY created_at DESC
			LIMIT 1
		`, orgID, authorID, threadID, content, cutoff)
		return scanMessage(row)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE org_id = $1 AND author_id = $2
		  AND content = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1
	`, orgID, authorID, content, cutoff)
	return scanMessage(row)
}
