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

package resolve

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// continuityWindow bounds how many recent threads the continuity fallback
// inspects.
const continuityWindow = 10

// subjectTagPattern matches "Ticket #X" markers, bracketed or not.
var subjectTagPattern = regexp.MustCompile(`(?i)\[?\s*ticket\s*#\s*([A-Za-z0-9][A-Za-z0-9._-]*)`)

// TicketDirectory is the conversation lookup surface the ticket resolver
// needs. Implemented by store.Store.
type TicketDirectory interface {
	FindMessageByExternalID(ctx context.Context, orgID, externalID string) (*store.Message, error)
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	GetTicket(ctx context.Context, id string) (*store.Ticket, error)
	FindTicketByDisplayID(ctx context.Context, orgID, displayID string) (*store.Ticket, error)
	FindThreadBySession(ctx context.Context, orgID, sessionID string) (*store.Thread, error)
	RecentActiveThreads(ctx context.Context, orgID, customerID string, limit int) ([]store.Thread, error)
}

// TicketResolver decides whether a message continues an existing
// conversation or starts a new one.
type TicketResolver struct {
	dir TicketDirectory
}

// NewTicketResolver creates a ticket resolver.
func NewTicketResolver(dir TicketDirectory) *TicketResolver {
	return &TicketResolver{dir: dir}
}

var openStatuses = func() map[string]bool {
	m := make(map[string]bool, len(store.OpenTicketStatuses))
	for _, s := range store.OpenTicketStatuses {
		m[s] = true
	}
	return m
}()

// Resolve returns the ticket id the message should land on, or "" to
// start a new ticket. Five strategies run in order, each short-circuiting
// on a hit: reply-chain id, self message-id echo, subject tag, explicit
// session match, and recent-thread continuity. Unexpected errors during
// any strategy are swallowed and treated as "no match"; an inbound
// message is never lost over a resolution failure.
func (r *TicketResolver) Resolve(ctx context.Context, msg *models.CanonicalMessage, orgID, customerID string) string {
	// 1. Reply-chain match on In-Reply-To / References
	for _, ref := range replyIdentifiers(msg) {
		if ticketID := r.ticketByStoredMessage(ctx, orgID, ref); ticketID != "" {
			return ticketID
		}
	}

	// 2. Self message-id match: some providers echo a prior id back
	if id := normalizeMessageID(msg.ExternalID); id != "" {
		if ticketID := r.ticketByStoredMessage(ctx, orgID, id); ticketID != "" {
			return ticketID
		}
	}

	// 3. Subject tag ("reply to Ticket #X")
	if ticketID := r.ticketBySubjectTag(ctx, orgID, msg.Subject); ticketID != "" {
		return ticketID
	}

	// 4. Explicit thread/session match. For the widget this is
	// authoritative: session identity is exact or the message starts a
	// new ticket, never the continuity fallback.
	if msg.SessionID != "" {
		thread, err := r.dir.FindThreadBySession(ctx, orgID, msg.SessionID)
		if err != nil {
			slog.Warn("session thread lookup failed", "org", orgID, "error", err)
		} else if thread != nil {
			return thread.TicketID
		}
	}
	if msg.Channel == models.ChannelWidget {
		return ""
	}

	// 5. Continuity fallback: the customer's most recent open ticket
	threads, err := r.dir.RecentActiveThreads(ctx, orgID, customerID, continuityWindow)
	if err != nil {
		slog.Warn("continuity thread lookup failed", "org", orgID, "error", err)
		return ""
	}
	for _, thread := range threads {
		ticket, err := r.dir.GetTicket(ctx, thread.TicketID)
		if err != nil {
			slog.Warn("continuity ticket lookup failed", "ticket", thread.TicketID, "error", err)
			continue
		}
		if ticket != nil && openStatuses[ticket.Status] {
			return ticket.ID
		}
	}

	return ""
}

// ticketByStoredMessage looks up a previously stored message by external
// id and returns its thread's ticket, provided the thread is still active.
func (r *TicketResolver) ticketByStoredMessage(ctx context.Context, orgID, externalID string) string {
	m, err := r.dir.FindMessageByExternalID(ctx, orgID, externalID)
	if err != nil {
		slog.Warn("stored message lookup failed", "org", orgID, "error", err)
		return ""
	}
	if m == nil {
		return ""
	}
	thread, err := r.dir.GetThread(ctx, m.ThreadID)
	if err != nil {
		slog.Warn("thread lookup failed", "thread", m.ThreadID, "error", err)
		return ""
	}
	if thread == nil || !thread.Active {
		return ""
	}
	return thread.TicketID
}

// ticketBySubjectTag resolves a "Ticket #X" subject marker, first against
// the tenant-visible display id, then as a raw ticket id.
func (r *TicketResolver) ticketBySubjectTag(ctx context.Context, orgID, subject string) string {
	match := subjectTagPattern.FindStringSubmatch(subject)
	if match == nil {
		return ""
	}
	token := match[1]

	ticket, err := r.dir.FindTicketByDisplayID(ctx, orgID, token)
	if err != nil {
		slog.Warn("display id lookup failed", "org", orgID, "error", err)
	} else if ticket != nil {
		return ticket.ID
	}

	ticket, err = r.dir.GetTicket(ctx, token)
	if err != nil {
		slog.Warn("ticket lookup failed", "token", token, "error", err)
		return ""
	}
	if ticket != nil && ticket.OrgID == orgID {
		return ticket.ID
	}
	return ""
}

// replyIdentifiers collects the normalized reply-chain ids to probe,
// In-Reply-To first.
func replyIdentifiers(msg *models.CanonicalMessage) []string {
	var out []string
	if id := normalizeMessageID(msg.InReplyTo); id != "" {
		out = append(out, id)
	}
	for _, ref := range msg.References {
		if id := normalizeMessageID(ref); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// normalizeMessageID strips angle brackets and whitespace.
func normalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
