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
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Thread links a ticket to its message sequence. SessionID carries the
// widget/continuity matching key when present.
type Thread struct {
	ID         string
	OrgID      string
	TicketID   string
	CustomerID string
	Active     bool
	SessionID  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const threadColumns = `id, org_id, ticket_id, customer_id, active, session_id, created_at, updated_at`

func scanThread(row pgx.Row) (*Thread, error) {
	var t Thread
	err := row.Scan(&t.ID, &t.OrgID, &t.TicketID, &t.CustomerID, &t.Active,
		&t.SessionID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateThread inserts a new thread for a freshly created ticket.
func (s *Store) CreateThread(ctx context.Context, t *Thread) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO threads (id, org_id, ticket_id, customer_id, active, session_id)
		VALUES ($1, $2, $3, $4, TRUE, $5)
	`, t.ID, t.OrgID, t.TicketID, t.CustomerID, t.SessionID)
	return err
}

// GetThread retrieves a thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE id = $1
	`, id)
	return scanThread(row)
}

// FindThreadByTicket returns the thread owned by a ticket.
func (s *Store) FindThreadByTicket(ctx context.Context, ticketID string) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE ticket_id = $1
		ORDER BY created_at
		LIMIT 1
	`, ticketID)
	return scanThread(row)
}

// FindThreadBySession returns the active thread whose session key equals
// the given identifier exactly, scoped to the tenant.
func (s *Store) FindThreadBySession(ctx context.Context, orgID, sessionID string) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE org_id = $1 AND active AND session_id = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`, orgID, sessionID)
	return scanThread(row)
}

// RecentActiveThreads returns a customer's most recently updated active
// threads, newest first, bounded to limit.
func (s *Store) RecentActiveThreads(ctx context.Context, orgID, customerID string, limit int) ([]Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE org_id = $1 AND customer_id = $2 AND active
		ORDER BY updated_at DESC
		LIMIT $3
	`, orgID, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// TouchThread bumps updated_at when a message is appended.
func (s *Store) TouchThread(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE threads SET updated_at = NOW() WHERE id = $1
	`, id)
	return err
}
