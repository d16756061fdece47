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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/crewdesk/ingestion/internal/dedup"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/resolve"
	"github.com/crewdesk/ingestion/internal/store"
)

// fakeBackend is one in-memory implementation behind the orchestrator,
// the customer and ticket resolvers, and the duplicate guard, so tests
// exercise the real pipeline wiring end to end.
type fakeBackend struct {
	n            int
	agents       map[string]*store.Agent // keyed by email
	integrations map[string]*store.Integration
	customers    []*store.Customer
	tickets      map[string]*store.Ticket
	threads      map[string]*store.Thread
	messages     []*store.Message
	reviews      []*store.ReviewEntry
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		agents:       make(map[string]*store.Agent),
		integrations: make(map[string]*store.Integration),
		tickets:      make(map[string]*store.Ticket),
		threads:      make(map[string]*store.Thread),
	}
}

func (f *fakeBackend) nextID(prefix string) string {
	f.n++
	return fmt.Sprintf("%s-%d", prefix, f.n)
}

func (f *fakeBackend) FindAgentByEmail(_ context.Context, orgID, email string) (*store.Agent, error) {
	a := f.agents[store.NormalizeEmail(email)]
	if a == nil || a.OrgID != orgID {
		return nil, nil
	}
	return a, nil
}

func (f *fakeBackend) GetIntegration(_ context.Context, id string) (*store.Integration, error) {
	return f.integrations[id], nil
}

func (f *fakeBackend) CreateTicket(_ context.Context, t *store.Ticket) error {
	t.ID = f.nextID("tick")
	if t.DisplayID == "" {
		t.DisplayID = store.NewDisplayID()
	}
	f.tickets[t.ID] = t
	return nil
}

func (f *fakeBackend) GetTicket(_ context.Context, id string) (*store.Ticket, error) {
	return f.tickets[id], nil
}

func (f *fakeBackend) UpdateTicketStatus(_ context.Context, id, status string) error {
	if t := f.tickets[id]; t != nil {
		t.Status = status
	}
	return nil
}

func (f *fakeBackend) TouchTicket(_ context.Context, id string) error { return nil }

func (f *fakeBackend) CreateThread(_ context.Context, t *store.Thread) error {
	t.ID = f.nextID("thread")
	t.Active = true
	f.threads[t.ID] = t
	return nil
}

func (f *fakeBackend) GetThread(_ context.Context, id string) (*store.Thread, error) {
	return f.threads[id], nil
}

func (f *fakeBackend) FindThreadByTicket(_ context.Context, ticketID string) (*store.Thread, error) {
	for _, th := range f.threads {
		if th.TicketID == ticketID {
			return th, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) TouchThread(_ context.Context, id string) error { return nil }

func (f *fakeBackend) InsertMessage(_ context.Context, m *store.Message) error {
	m.ID = f.nextID("msg")
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeBackend) InsertReviewEntry(_ context.Context, e *store.ReviewEntry) error {
	f.reviews = append(f.reviews, e)
	return nil
}

func (f *fakeBackend) FindCustomerByExternalKey(_ context.Context, orgID, key string) (*store.Customer, error) {
	for _, c := range f.customers {
		if c.OrgID == orgID && c.ExternalKey == key {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) FindCustomerByEmail(_ context.Context, orgID, email string) (*store.Customer, error) {
	for _, c := range f.customers {
		if c.OrgID == orgID && c.Email == store.NormalizeEmail(email) {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) CreateCustomer(_ context.Context, c *store.Customer) error {
	c.ID = f.nextID("cust")
	c.Email = store.NormalizeEmail(c.Email)
	f.customers = append(f.customers, c)
	return nil
}

func (f *fakeBackend) FindMessageByExternalID(_ context.Context, orgID, externalID string) (*store.Message, error) {
	if externalID == "" {
		return nil, nil
	}
	for _, m := range f.messages {
		if m.OrgID == orgID && m.ExternalID == externalID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) FindRecentDuplicate(_ context.Context, orgID, authorID, threadID, content string, window time.Duration) (*store.Message, error) {
	cutoff := time.Now().Add(-window)
	for _, m := range f.messages {
		if m.OrgID != orgID || m.AuthorID != authorID || m.Content != content {
			continue
		}
		if threadID != "" && m.ThreadID != threadID {
			continue
		}
		if m.CreatedAt.After(cutoff) {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) FindTicketByDisplayID(_ context.Context, orgID, displayID string) (*store.Ticket, error) {
	for _, t := range f.tickets {
		if t.OrgID == orgID && t.DisplayID == displayID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) FindThreadBySession(_ context.Context, orgID, sessionID string) (*store.Thread, error) {
	for _, th := range f.threads {
		if th.OrgID == orgID && th.Active && th.SessionID == sessionID {
			return th, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) RecentActiveThreads(_ context.Context, orgID, customerID string, limit int) ([]store.Thread, error) {
	var out []store.Thread
	for _, th := range f.threads {
		if th.OrgID == orgID && th.CustomerID == customerID && th.Active {
			out = append(out, *th)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// stubOrgs is a canned organization resolver.
type stubOrgs struct {
	orgID         string
	integrationID string
	err           error
}

func (s stubOrgs) Resolve(_ context.Context, msg *models.CanonicalMessage) (string, error) {
	if s.integrationID != "" {
		msg.IntegrationID = s.integrationID
	}
	return s.orgID, s.err
}

type stubCustomers struct{ err error }

func (s stubCustomers) Resolve(context.Context, *models.CanonicalMessage, string) (*store.Customer, error) {
	return nil, s.err
}

func newOrchestrator(f *fakeBackend, orgs OrgResolver) *Orchestrator {
	return New(f, orgs,
		resolve.NewCustomerResolver(f),
		resolve.NewTicketResolver(f),
		dedup.NewGuard(f),
		nil)
}

func TestIngest_FirstContactOpensTicket(t *testing.T) {
	f := newFakeBackend()
	f.integrations["int-1"] = &store.Integration{ID: "int-1", OrgID: "org-a", DefaultAssigneeID: "agent-7"}
	o := newOrchestrator(f, stubOrgs{orgID: "org-a", integrationID: "int-1"})

	msg := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		From:       models.Identity{Email: "jane@example.com", Name: "Jane Doe"},
		To:         models.Identity{Email: "support@acme.io"},
		Subject:    "Printer on fire",
		Content:    "please advise",
		ExternalID: "first@mail.example",
	}
	res := o.Ingest(context.Background(), msg, "")
	if res.Outcome != OutcomeResolved {
		t.Fatalf("outcome = %q (%v)", res.Outcome, res.Err)
	}
	if len(f.tickets) != 1 || len(f.threads) != 1 || len(f.messages) != 1 {
		t.Fatalf("tickets=%d threads=%d messages=%d, want 1/1/1",
			len(f.tickets), len(f.threads), len(f.messages))
	}
	ticket := f.tickets[res.TicketID]
	if ticket.Subject != "Printer on fire" || ticket.Status != store.TicketOpen {
		t.Errorf("ticket = %+v", ticket)
	}
	if ticket.AssigneeID != "agent-7" {
		t.Errorf("assignee = %q, want default from integration", ticket.AssigneeID)
	}
	if f.messages[0].AuthorType != models.AuthorCustomer {
		t.Errorf("author type = %q", f.messages[0].AuthorType)
	}
}

// TestIngest_Idempotency: the same external id twice yields one stored
// message, and the second call reports the first's identifiers.
func TestIngest_Idempotency(t *testing.T) {
	f := newFakeBackend()
	o := newOrchestrator(f, stubOrgs{orgID: "org-a"})

	msg := func() *models.CanonicalMessage {
		return &models.CanonicalMessage{
			Channel:    models.ChannelEmail,
			From:       models.Identity{Email: "jane@example.com"},
			Subject:    "hello",
			Content:    "first contact",
			ExternalID: "dup@mail.example",
		}
	}

	first := o.Ingest(context.Background(), msg(), "")
	if first.Outcome != OutcomeResolved {
		t.Fatalf("first outcome = %q (%v)", first.Outcome, first.Err)
	}
	second := o.Ingest(context.Background(), msg(), "")
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("second outcome = %q (%v)", second.Outcome, second.Err)
	}
	if second.MessageID != first.MessageID || second.TicketID != first.TicketID {
		t.Errorf("second = (%s, %s), want first's (%s, %s)",
			second.MessageID, second.TicketID, first.MessageID, first.TicketID)
	}
	if len(f.messages) != 1 {
		t.Errorf("messages = %d, want 1", len(f.messages))
	}
}

func TestIngest_ReplyReopensResolvedTicket(t *testing.T) {
	f := newFakeBackend()
	o := newOrchestrator(f, stubOrgs{orgID: "org-a"})

	msg := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		From:       models.Identity{Email: "jane@example.com"},
		Subject:    "need help",
		Content:    "original",
		ExternalID: "orig@mail.example",
	}
	first := o.Ingest(context.Background(), msg, "")
	if first.Outcome != OutcomeResolved {
		t.Fatalf("first outcome = %q (%v)", first.Outcome, first.Err)
	}
	f.tickets[first.TicketID].Status = store.TicketResolved

	reply := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		From:       models.Identity{Email: "jane@example.com"},
		Subject:    "Re: need help",
		Content:    "still broken",
		ExternalID: "reply@mail.example",
		InReplyTo:  "<orig@mail.example>",
	}
	res := o.Ingest(context.Background(), reply, "")
	if res.Outcome != OutcomeResolved {
		t.Fatalf("reply outcome = %q (%v)", res.Outcome, res.Err)
	}
	if res.TicketID != first.TicketID {
		t.Errorf("reply landed on %q, want %q", res.TicketID, first.TicketID)
	}
	if f.tickets[first.TicketID].Status != store.TicketOpen {
		t.Errorf("status = %q, want reopened", f.tickets[first.TicketID].Status)
	}
	if len(f.tickets) != 1 {
		t.Errorf("tickets = %d, want 1", len(f.tickets))
	}
}

func TestIngest_AgentReply(t *testing.T) {
	f := newFakeBackend()
	f.agents["sam@acme.io"] = &store.Agent{ID: "agent-1", OrgID: "org-a", Email: "sam@acme.io", Active: true}
	o := newOrchestrator(f, stubOrgs{orgID: "org-a"})

	msg := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		From:       models.Identity{Email: "jane@example.com"},
		Content:    "original",
		ExternalID: "orig@mail.example",
	}
	first := o.Ingest(context.Background(), msg, "")

	reply := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		From:       models.Identity{Email: "Sam@Acme.io"},
		Content:    "on it",
		ExternalID: "agentreply@mail.example",
		InReplyTo:  "orig@mail.example",
	}
	res := o.Ingest(context.Background(), reply, "")
	if res.Outcome != OutcomeResolved {
		t.Fatalf("outcome = %q (%v)", res.Outcome, res.Err)
	}
	if res.TicketID != first.TicketID {
		t.Errorf("agent reply landed on %q, want %q", res.TicketID, first.TicketID)
	}
	last := f.messages[len(f.messages)-1]
	if last.AuthorType != models.AuthorAgent || last.AuthorID != "agent-1" {
		t.Errorf("author = (%q, %q), want agent-1", last.AuthorType, last.AuthorID)
	}
	if len(f.customers) != 1 {
		t.Errorf("customers = %d, agent must not become a customer", len(f.customers))
	}
}

func TestIngest_AgentMailWithoutConversation(t *testing.T) {
	f := newFakeBackend()
	f.agents["sam@acme.io"] = &store.Agent{ID: "agent-1", OrgID: "org-a", Email: "sam@acme.io", Active: true}
	o := newOrchestrator(f, stubOrgs{orgID: "org-a"})

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		From:    models.Identity{Email: "sam@acme.io"},
		Content: "stray outbound copy",
	}
	res := o.Ingest(context.Background(), msg, "")
	if res.Outcome != OutcomeDeferred {
		t.Fatalf("outcome = %q (%v)", res.Outcome, res.Err)
	}
	if len(f.reviews) != 1 || len(f.tickets) != 0 {
		t.Errorf("reviews=%d tickets=%d, want 1/0", len(f.reviews), len(f.tickets))
	}
}

func TestIngest_NoTenantGoesToReview(t *testing.T) {
	f := newFakeBackend()
	o := newOrchestrator(f, stubOrgs{})

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		From:    models.Identity{Email: "jane@example.com"},
		To:      models.Identity{Email: "nobody@nowhere.io"},
		Content: "hello?",
	}
	res := o.Ingest(context.Background(), msg, "")
	if res.Outcome != OutcomeDeferred {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	var unres *UnresolvableError
	if !errors.As(res.Err, &unres) {
		t.Errorf("err = %v, want UnresolvableError", res.Err)
	}
	if len(f.reviews) != 1 {
		t.Fatalf("reviews = %d, want 1", len(f.reviews))
	}
	if f.reviews[0].SenderHint != "jane@example.com" {
		t.Errorf("sender hint = %q", f.reviews[0].SenderHint)
	}
	if Retryable(res.Err) {
		t.Error("unresolvable must not be retryable")
	}
}

func TestIngest_TransientFailureIsRetryable(t *testing.T) {
	f := newFakeBackend()
	o := New(f, stubOrgs{orgID: "org-a"},
		stubCustomers{err: errors.New("connection refused")},
		resolve.NewTicketResolver(f),
		dedup.NewGuard(f),
		nil)

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		From:    models.Identity{Email: "jane@example.com"},
		Content: "hello",
	}
	res := o.Ingest(context.Background(), msg, "")
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if !Retryable(res.Err) {
		t.Errorf("err = %v, want retryable", res.Err)
	}
}

func TestIngest_KnownTenantSkipsResolution(t *testing.T) {
	f := newFakeBackend()
	// A resolver that would fail if consulted.
	o := newOrchestrator(f, stubOrgs{err: errors.New("must not be called")})

	msg := &models.CanonicalMessage{
		Channel:   models.ChannelWidget,
		SessionID: "sess-1",
		Content:   "hi from the widget",
	}
	res := o.Ingest(context.Background(), msg, "org-a")
	if res.Outcome != OutcomeResolved {
		t.Fatalf("outcome = %q (%v)", res.Outcome, res.Err)
	}
	if f.threads[res.ThreadID].SessionID != "sess-1" {
		t.Errorf("thread session = %q", f.threads[res.ThreadID].SessionID)
	}
}

// TestIngest_SubjectTruncationKeepsRunes: a subject-less message whose
// content is cut for the ticket subject must stay valid UTF-8, or the
// insert would be rejected on every retry.
func TestIngest_SubjectTruncationKeepsRunes(t *testing.T) {
	f := newFakeBackend()
	o := newOrchestrator(f, stubOrgs{orgID: "org-a"})

	msg := &models.CanonicalMessage{
		Channel:    models.ChannelSMS,
		From:       models.Identity{Phone: "+15550001111"},
		Content:    "a" + strings.Repeat("é", 100),
		ExternalID: "sms-1",
	}
	res := o.Ingest(context.Background(), msg, "")
	if res.Outcome != OutcomeResolved {
		t.Fatalf("outcome = %q (%v)", res.Outcome, res.Err)
	}
	subject := f.tickets[res.TicketID].Subject
	if !utf8.ValidString(subject) {
		t.Fatalf("subject is not valid UTF-8: %q", subject)
	}
	if len(subject) > 120 {
		t.Errorf("subject = %d bytes, want at most 120", len(subject))
	}
}

// TestIngestRaw_ReviewCarriesOriginalPayload: an unresolvable webhook
// event lands in manual review with the payload exactly as delivered,
// so operators can replay it.
func TestIngestRaw_ReviewCarriesOriginalPayload(t *testing.T) {
	f := newFakeBackend()
	o := newOrchestrator(f, stubOrgs{})

	raw := []byte(`{"from":"+15550001111","to":"+15559990000","body":"x` + strings.Repeat("ü", 300) + `"}`)
	res := o.IngestRaw(context.Background(), raw, "twilio", models.ChannelSMS, "")
	if res.Outcome != OutcomeDeferred {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if len(f.reviews) != 1 {
		t.Fatalf("reviews = %d, want 1", len(f.reviews))
	}
	entry := f.reviews[0]
	if entry.RawPayload != string(raw) {
		t.Errorf("raw payload = %q, want the delivered bytes", entry.RawPayload)
	}
	if !utf8.ValidString(entry.ContentHint) {
		t.Errorf("content hint is not valid UTF-8: %q", entry.ContentHint)
	}
}
