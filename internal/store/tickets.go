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
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Ticket statuses. The "open set" used by reply continuity is
// open/pending/escalated/in_progress.
const (
	TicketOpen       = "open"
	TicketPending    = "pending"
	TicketEscalated  = "escalated"
	TicketInProgress = "in_progress"
	TicketResolved   = "resolved"
	TicketClosed     = "closed"
)

// OpenTicketStatuses lists the statuses a reply may continue into without
// reopening.
var OpenTicketStatuses = []string{TicketOpen, TicketPending, TicketEscalated, TicketInProgress}

// Ticket is the conversation owner. DisplayID is the tenant-visible
// ticket number referenced from email subjects.
type Ticket struct {
	ID         string
	OrgID      string
	DisplayID  string
	CustomerID string
	AssigneeID string
	Subject    string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const ticketColumns = `id, org_id, display_id, customer_id, assignee_id, subject, status, created_at, updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.OrgID, &t.DisplayID, &t.CustomerID, &t.AssigneeID,
		&t.Subject, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NewDisplayID generates a tenant-visible ticket number: date prefix plus
// a random suffix, e.g. "20260830-4F2A1C".
func NewDisplayID() string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102"), hex.EncodeToString(buf))
}

// CreateTicket inserts a new ticket, generating id and display id when unset.
func (s *Store) CreateTicket(ctx context.Context, t *Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.DisplayID == "" {
		t.DisplayID = NewDisplayID()
	}
	if t.Status == "" {
		t.Status = TicketOpen
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickets (id, org_id, display_id, customer_id, assignee_id, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.OrgID, t.DisplayID, t.CustomerID, t.AssigneeID, t.Subject, t.Status)
	return err
}

// GetTicket retrieves a ticket by id.
func (s *Store) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1
	`, id)
	return scanTicket(row)
}

// FindTicketByDisplayID resolves a tenant-visible ticket number.
func (s *Store) FindTicketByDisplayID(ctx context.Context, orgID, displayID string) (*Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE org_id = $1 AND display_id = $2
	`, orgID, displayID)
	return scanTicket(row)
}

// UpdateTicketStatus moves a ticket to a new status and touches updated_at.
func (s *Store) UpdateTicketStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tickets SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// TouchTicket bumps updated_at when a new message lands on the ticket.
func (s *Store) TouchTicket(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tickets SET updated_at = NOW() WHERE id = $1
	`, id)
	return err
}
