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
	"testing"

	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// seedConversation wires up a ticket, an active thread, and one stored
// message so reply-chain lookups have something to hit.
func seedConversation(f *fakeStore, ticketID, displayID, externalID, status string) {
	f.tickets[ticketID] = &store.Ticket{
		ID: ticketID, OrgID: "org-a", DisplayID: displayID, Status: status,
	}
	threadID := "thread-" + ticketID
	f.threads[threadID] = &store.Thread{
		ID: threadID, OrgID: "org-a", TicketID: ticketID, Active: true,
	}
	if externalID != "" {
		f.messages[externalID] = &store.Message{
			ID: "msg-" + ticketID, OrgID: "org-a", ThreadID: threadID,
			ExternalID: externalID,
		}
	}
}

func TestTicketResolver_ReplyChain(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-1", "20260101-AB12", "orig@mail.example", store.TicketOpen)
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{
		Channel:   models.ChannelEmail,
		InReplyTo: "<orig@mail.example>",
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "tick-1" {
		t.Errorf("ticket = %q, want tick-1", got)
	}
}

func TestTicketResolver_ReferencesFallback(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-1", "20260101-AB12", "orig@mail.example", store.TicketOpen)
	r := NewTicketResolver(f)

	// In-Reply-To points nowhere, References carries the stored id.
	msg := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		InReplyTo:  "<gone@mail.example>",
		References: []string{"<older@mail.example>", "<orig@mail.example>"},
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "tick-1" {
		t.Errorf("ticket = %q, want tick-1", got)
	}
}

// TestTicketResolver_ReplyChainBeatsSubjectTag: when a message carries
// both a valid reply-chain id and a subject tag naming a different
// ticket, the reply chain wins.
func TestTicketResolver_ReplyChainBeatsSubjectTag(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-1", "20260101-AB12", "orig@mail.example", store.TicketOpen)
	seedConversation(f, "tick-2", "20260202-CD34", "", store.TicketOpen)
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{
		Channel:   models.ChannelEmail,
		Subject:   "Re: [Ticket #20260202-CD34] printer on fire",
		InReplyTo: "<orig@mail.example>",
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "tick-1" {
		t.Errorf("ticket = %q, want tick-1 via reply chain", got)
	}
}

func TestTicketResolver_SubjectTag(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-2", "20260202-CD34", "", store.TicketOpen)
	r := NewTicketResolver(f)

	tests := []string{
		"Re: [Ticket #20260202-CD34] printer on fire",
		"RE: ticket #20260202-CD34",
		"Fwd: Ticket# 20260202-CD34 update",
	}
	for _, subject := range tests {
		msg := &models.CanonicalMessage{Channel: models.ChannelEmail, Subject: subject}
		if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "tick-2" {
			t.Errorf("subject %q resolved %q, want tick-2", subject, got)
		}
	}
}

func TestTicketResolver_SubjectTagWrongOrg(t *testing.T) {
	f := newFakeStore()
	f.tickets["tick-x"] = &store.Ticket{ID: "tick-x", OrgID: "org-other", Status: store.TicketOpen}
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		Subject: "Ticket #tick-x",
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "" {
		t.Errorf("ticket = %q, want none across tenants", got)
	}
}

func TestTicketResolver_SessionMatch(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-3", "20260303-EF56", "", store.TicketOpen)
	f.threads["thread-tick-3"].SessionID = "sess-9"
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{
		Channel:   models.ChannelWidget,
		SessionID: "sess-9",
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "tick-3" {
		t.Errorf("ticket = %q, want tick-3", got)
	}
}

// TestTicketResolver_WidgetNeverFallsBack: a widget message whose session
// matches no thread starts a new ticket even when the customer has a
// recent open one.
func TestTicketResolver_WidgetNeverFallsBack(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-old", "20260101-AA00", "", store.TicketOpen)
	f.threads["thread-tick-old"].CustomerID = "cust-1"
	f.recent = []store.Thread{*f.threads["thread-tick-old"]}
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{
		Channel:   models.ChannelWidget,
		SessionID: "sess-unknown",
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "" {
		t.Errorf("ticket = %q, want new ticket for an unknown session", got)
	}
}

// TestTicketResolver_ContinuityFallback: a bare SMS with no references
// lands on the customer's most recent open ticket, including ones in
// pending status.
func TestTicketResolver_ContinuityFallback(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-4", "20260404-GH78", "", store.TicketPending)
	f.threads["thread-tick-4"].CustomerID = "cust-1"
	f.recent = []store.Thread{*f.threads["thread-tick-4"]}
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{
		Channel: models.ChannelSMS,
		From:    models.Identity{Phone: "+15550002222"},
		Content: "any update?",
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "tick-4" {
		t.Errorf("ticket = %q, want tick-4 via continuity", got)
	}
}

func TestTicketResolver_ContinuitySkipsClosed(t *testing.T) {
	f := newFakeStore()
	seedConversation(f, "tick-closed", "20260101-AA11", "", store.TicketClosed)
	seedConversation(f, "tick-open", "20260102-BB22", "", store.TicketOpen)
	f.threads["thread-tick-closed"].CustomerID = "cust-1"
	f.threads["thread-tick-open"].CustomerID = "cust-1"
	f.recent = []store.Thread{
		*f.threads["thread-tick-closed"],
		*f.threads["thread-tick-open"],
	}
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{Channel: models.ChannelSMS}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "tick-open" {
		t.Errorf("ticket = %q, want tick-open past the closed one", got)
	}
}

// TestTicketResolver_LookupErrorsSwallowed: resolution failures degrade
// to "new ticket", never an error surfaced to the caller.
func TestTicketResolver_LookupErrorsSwallowed(t *testing.T) {
	f := newFakeStore()
	f.failLookups = true
	r := NewTicketResolver(f)

	msg := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		Subject:    "Ticket #20260101-AB12",
		InReplyTo:  "<orig@mail.example>",
		References: []string{"<older@mail.example>"},
		SessionID:  "sess-1",
	}
	if got := r.Resolve(context.Background(), msg, "org-a", "cust-1"); got != "" {
		t.Errorf("ticket = %q, want none when every lookup errors", got)
	}
}
