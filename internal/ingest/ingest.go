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

// Package ingest sequences an inbound message through tenant, customer,
// and ticket resolution, deduplication, and persistence. One entry point
// serves both synchronous webhooks and queue-driven mailbox jobs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/crewdesk/ingestion/internal/channels"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// Outcome classifies the end state of one ingestion attempt.
type Outcome string

const (
	// OutcomeResolved means a new message was stored.
	OutcomeResolved Outcome = "resolved"
	// OutcomeDuplicate means a prior message absorbed this delivery.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDeferred means the event went to manual review.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeFailed means a transient error; retry under the queue.
	OutcomeFailed Outcome = "failed"
)

// Result reports what ingestion did with a message. For duplicates the
// ids point at the previously stored message.
type Result struct {
	Outcome   Outcome
	OrgID     string
	TicketID  string
	ThreadID  string
	MessageID string
	Err       error
}

// Storage is the persistence surface the orchestrator needs. Implemented
// by store.Store.
type Storage interface {
	FindAgentByEmail(ctx context.Context, orgID, email string) (*store.Agent, error)
	GetIntegration(ctx context.Context, id string) (*store.Integration, error)
	CreateTicket(ctx context.Context, t *store.Ticket) error
	GetTicket(ctx context.Context, id string) (*store.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id, status string) error
	TouchTicket(ctx context.Context, id string) error
	CreateThread(ctx context.Context, t *store.Thread) error
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	FindThreadByTicket(ctx context.Context, ticketID string) (*store.Thread, error)
	TouchThread(ctx context.Context, id string) error
	InsertMessage(ctx context.Context, m *store.Message) error
	InsertReviewEntry(ctx context.Context, e *store.ReviewEntry) error
}

// OrgResolver maps a message to its tenant.
type OrgResolver interface {
	Resolve(ctx context.Context, msg *models.CanonicalMessage) (string, error)
}

// CustomerResolver finds or creates the sending customer.
type CustomerResolver interface {
	Resolve(ctx context.Context, msg *models.CanonicalMessage, orgID string) (*store.Customer, error)
}

// TicketResolver picks the conversation a message continues, or "" for a
// new ticket.
type TicketResolver interface {
	Resolve(ctx context.Context, msg *models.CanonicalMessage, orgID, customerID string) string
}

// DuplicateGuard detects redeliveries and rapid retries against stored
// messages.
type DuplicateGuard interface {
	Duplicate(ctx context.Context, orgID, authorID, threadID string, msg *models.CanonicalMessage) (*store.Message, error)
}

// Notifier is told about every newly stored message. Downstream fan-out
// (agent notifications, websockets) lives behind it.
type Notifier interface {
	MessageIngested(ctx context.Context, orgID, ticketID string, m *store.Message)
}

// Orchestrator runs the ingestion pipeline.
type Orchestrator struct {
	storage   Storage
	orgs      OrgResolver
	customers CustomerResolver
	tickets   TicketResolver
	dups      DuplicateGuard
	notifier  Notifier
}

// New creates an orchestrator. notifier may be nil.
func New(storage Storage, orgs OrgResolver, customers CustomerResolver, tickets TicketResolver, dups DuplicateGuard, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		storage:   storage,
		orgs:      orgs,
		customers: customers,
		tickets:   tickets,
		dups:      dups,
		notifier:  notifier,
	}
}

// IngestRaw parses a raw provider payload and ingests it. knownOrgID
// skips tenant resolution when the caller already knows the tenant
// (widget webhooks, mailbox jobs).
func (o *Orchestrator) IngestRaw(ctx context.Context, raw []byte, provider string, channel models.Channel, knownOrgID string) Result {
	msg := channels.Parse(raw, provider, channel)
	msg.Raw = raw
	return o.Ingest(ctx, msg, knownOrgID)
}

// Ingest runs a canonical message through the pipeline. It never panics
// and returns a classified Result; only transient failures carry a
// retryable error.
func (o *Orchestrator) Ingest(ctx context.Context, msg *models.CanonicalMessage, knownOrgID string) Result {
	orgID := knownOrgID
	if orgID == "" {
		resolved, err := o.orgs.Resolve(ctx, msg)
		if err != nil {
			return failed(fmt.Errorf("organization resolution: %w", err))
		}
		orgID = resolved
	}
	if orgID == "" {
		return o.toReview(ctx, msg, "no tenant matched any recipient address")
	}

	authorType, authorID, customerID, res := o.resolveAuthor(ctx, msg, orgID)
	if res != nil {
		return *res
	}

	ticketID := o.tickets.Resolve(ctx, msg, orgID, customerID)

	var threadID string
	if ticketID != "" {
		thread, err := o.storage.FindThreadByTicket(ctx, ticketID)
		if err != nil {
			return failed(fmt.Errorf("thread lookup: %w", err))
		}
		if thread != nil {
			threadID = thread.ID
		}
	}

	if dup, err := o.dups.Duplicate(ctx, orgID, authorID, threadID, msg); err != nil {
		return failed(fmt.Errorf("duplicate check: %w", err))
	} else if dup != nil {
		return o.duplicateResult(ctx, orgID, dup)
	}

	if ticketID == "" {
		if customerID == "" {
			return o.toReview(ctx, msg, "agent message with no matching conversation")
		}
		var err error
		ticketID, threadID, err = o.openTicket(ctx, msg, orgID, customerID)
		if err != nil {
			return failed(err)
		}
	} else if err := o.continueTicket(ctx, orgID, ticketID, &threadID, authorType); err != nil {
		return failed(err)
	}

	m := &store.Message{
		OrgID:       orgID,
		ThreadID:    threadID,
		Channel:     msg.Channel,
		AuthorType:  authorType,
		AuthorID:    authorID,
		Content:     msg.Content,
		RawBody:     msg.RawBody,
		ExternalID:  msg.ExternalID,
		Attachments: msg.Attachments,
	}
	if err := o.storage.InsertMessage(ctx, m); err != nil {
		return failed(fmt.Errorf("insert message: %w", err))
	}

	slog.Info("message ingested",
		"org", orgID,
		"ticket", ticketID,
		"channel", msg.Channel,
		"author_type", authorType)

	if o.notifier != nil {
		o.notifier.MessageIngested(ctx, orgID, ticketID, m)
	}

	return Result{
		Outcome:   OutcomeResolved,
		OrgID:     orgID,
		TicketID:  ticketID,
		ThreadID:  threadID,
		MessageID: m.ID,
	}
}

// resolveAuthor classifies the sender. Mail from a tenant agent is stored
// as an agent-authored message; everyone else goes through customer
// find-or-create. A non-nil Result short-circuits the pipeline.
func (o *Orchestrator) resolveAuthor(ctx context.Context, msg *models.CanonicalMessage, orgID string) (models.AuthorType, string, string, *Result) {
	if msg.Channel == models.ChannelEmail && msg.From.Email != "" {
		agent, err := o.storage.FindAgentByEmail(ctx, orgID, msg.From.Email)
		if err != nil {
			r := failed(fmt.Errorf("agent lookup: %w", err))
			return "", "", "", &r
		}
		if agent != nil {
			// Agent mail only continues existing conversations; there is
			// no customer to open a new ticket for.
			return models.AuthorAgent, agent.ID, "", nil
		}
	}

	customer, err := o.customers.Resolve(ctx, msg, orgID)
	if err != nil {
		r := failed(fmt.Errorf("customer resolution: %w", err))
		return "", "", "", &r
	}
	return models.AuthorCustomer, customer.ID, customer.ID, nil
}

// duplicateResult maps a stored duplicate back to its ticket so the
// caller receives the prior identifiers.
func (o *Orchestrator) duplicateResult(ctx context.Context, orgID string, dup *store.Message) Result {
	res := Result{
		Outcome:   OutcomeDuplicate,
		OrgID:     orgID,
		ThreadID:  dup.ThreadID,
		MessageID: dup.ID,
	}
	thread, err := o.storage.GetThread(ctx, dup.ThreadID)
	if err != nil {
		slog.Warn("duplicate thread lookup failed", "thread", dup.ThreadID, "error", err)
	} else if thread != nil {
		res.TicketID = thread.TicketID
	}
	return res
}

// openTicket creates a new ticket and thread for a first-contact message.
// An integration match earlier in the pipeline supplies the default
// assignee hint.
func (o *Orchestrator) openTicket(ctx context.Context, msg *models.CanonicalMessage, orgID, customerID string) (ticketID, threadID string, err error) {
	var assigneeID string
	if msg.IntegrationID != "" {
		integration, err := o.storage.GetIntegration(ctx, msg.IntegrationID)
		if err != nil {
			slog.Warn("integration lookup failed", "integration", msg.IntegrationID, "error", err)
		} else if integration != nil {
			assigneeID = integration.DefaultAssigneeID
		}
	}

	subject := msg.Subject
	if subject == "" {
		subject = firstLine(msg.Content)
	}

	ticket := &store.Ticket{
		OrgID:      orgID,
		CustomerID: customerID,
		AssigneeID: assigneeID,
		Subject:    subject,
		Status:     store.TicketOpen,
	}
	if err := o.storage.CreateTicket(ctx, ticket); err != nil {
		return "", "", fmt.Errorf("create ticket: %w", err)
	}

	thread := &store.Thread{
		OrgID:      orgID,
		TicketID:   ticket.ID,
		CustomerID: customerID,
		SessionID:  msg.SessionID,
	}
	if err := o.storage.CreateThread(ctx, thread); err != nil {
		return "", "", fmt.Errorf("create thread: %w", err)
	}
	return ticket.ID, thread.ID, nil
}

// continueTicket appends to an existing conversation: a customer reply
// landing on a resolved or closed ticket reopens it, and activity
// timestamps are bumped.
func (o *Orchestrator) continueTicket(ctx context.Context, orgID, ticketID string, threadID *string, authorType models.AuthorType) error {
	ticket, err := o.storage.GetTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("ticket lookup: %w", err)
	}
	if ticket == nil {
		return fmt.Errorf("resolved ticket %s not found", ticketID)
	}

	if authorType == models.AuthorCustomer &&
		(ticket.Status == store.TicketResolved || ticket.Status == store.TicketClosed) {
		if err := o.storage.UpdateTicketStatus(ctx, ticketID, store.TicketOpen); err != nil {
			return fmt.Errorf("reopen ticket: %w", err)
		}
		slog.Info("ticket reopened by reply", "org", orgID, "ticket", ticketID)
	} else if err := o.storage.TouchTicket(ctx, ticketID); err != nil {
		slog.Warn("ticket touch failed", "ticket", ticketID, "error", err)
	}

	if *threadID == "" {
		// A ticket without a thread should not occur, but recover by
		// creating one rather than dropping the message.
		thread := &store.Thread{OrgID: orgID, TicketID: ticketID, CustomerID: ticket.CustomerID}
		if err := o.storage.CreateThread(ctx, thread); err != nil {
			return fmt.Errorf("create recovery thread: %w", err)
		}
		*threadID = thread.ID
		return nil
	}
	if err := o.storage.TouchThread(ctx, *threadID); err != nil {
		slog.Warn("thread touch failed", "thread", *threadID, "error", err)
	}
	return nil
}

// toReview routes an unresolvable event to manual review. Review
// insertion is best-effort; a failure there is logged, never escalated.
func (o *Orchestrator) toReview(ctx context.Context, msg *models.CanonicalMessage, reason string) Result {
	// Prefer the payload as delivered; mailbox-fetched messages have no
	// webhook bytes, so the provider body stands in.
	rawPayload := string(msg.Raw)
	if rawPayload == "" {
		rawPayload = msg.RawBody
	}
	entry := &store.ReviewEntry{
		Channel:       msg.Channel,
		Reason:        reason,
		RawPayload:    rawPayload,
		SenderHint:    firstNonEmpty(msg.From.Email, msg.From.Phone),
		RecipientHint: firstNonEmpty(msg.To.Email, msg.To.Phone),
		ContentHint:   truncate(msg.Content, 500),
	}
	if err := o.storage.InsertReviewEntry(ctx, entry); err != nil {
		slog.Error("manual review insert failed", "channel", msg.Channel, "error", err)
	} else {
		slog.Warn("message deferred to manual review", "channel", msg.Channel, "reason", reason)
	}
	return Result{
		Outcome: OutcomeDeferred,
		Err:     &UnresolvableError{Reason: reason},
	}
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: &TransientError{Err: err}}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return truncate(s[:i], 120)
		}
	}
	return truncate(s, 120)
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so
// the result stays valid UTF-8 for storage.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
