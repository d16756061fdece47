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

// Package webhook is the inbound HTTP surface: one endpoint per channel,
// the WhatsApp subscription handshake, the mailbox OAuth connect flow,
// and a health probe. Light channels resolve synchronously; WhatsApp
// envelopes are fanned out into the work queue so the provider gets a
// fast response regardless of batch size.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/crewdesk/ingestion/internal/channels"
	"github.com/crewdesk/ingestion/internal/ingest"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// Ingester runs the synchronous ingestion path. Implemented by
// ingest.Orchestrator.
type Ingester interface {
	IngestRaw(ctx context.Context, raw []byte, provider string, channel models.Channel, knownOrgID string) ingest.Result
}

// Enqueuer hands payloads to the work queue. Implemented by queue.Queue.
type Enqueuer interface {
	Enqueue(payload []byte, provider string, channel models.Channel, orgID string) string
	Depth() int
}

// Connector drives the mailbox OAuth flow. Implemented by
// mailbox.OAuthManager.
type Connector interface {
	AuthorizeURL(provider, state string) (string, error)
	Complete(ctx context.Context, orgID, provider, code string) (*store.Integration, error)
	Resync(ctx context.Context, integrationID string, lookbackDays int) error
}

// Pinger reports reachability of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler serves the channel webhooks and the OAuth connect surface.
type Handler struct {
	ingester    Ingester
	queue       Enqueuer
	oauth       Connector
	verifyToken string

	db    Pinger
	cache Pinger
}

// NewHandler creates the webhook handler. db and cache may be nil; the
// health probe reports them as skipped.
func NewHandler(ingester Ingester, q Enqueuer, oauth Connector, verifyToken string, db, cache Pinger) *Handler {
	return &Handler{
		ingester:    ingester,
		queue:       q,
		oauth:       oauth,
		verifyToken: verifyToken,
		db:          db,
		cache:       cache,
	}
}

// ingestResponse is the wire shape every channel endpoint returns.
type ingestResponse struct {
	Success   bool   `json:"success"`
	TicketID  string `json:"ticketId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ServeEmail handles provider-agnostic inbound email webhooks.
func (h *Handler) ServeEmail(w http.ResponseWriter, r *http.Request) {
	h.serveSynchronous(w, r, models.ChannelEmail, "")
}

// ServeSMS handles SMS provider webhooks.
func (h *Handler) ServeSMS(w http.ResponseWriter, r *http.Request) {
	h.serveSynchronous(w, r, models.ChannelSMS, "")
}

// ServeWidget handles embedded chat widget messages. The tenant is known
// up front (the widget embed carries it), so resolution is synchronous
// and organization matching is skipped.
func (h *Handler) ServeWidget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "unreadable body"})
		return
	}

	orgID := r.Header.Get("X-Organization-ID")
	if orgID == "" {
		var probe struct {
			OrganizationID string `json:"organizationId"`
			OrgID          string `json:"orgId"`
		}
		if err := json.Unmarshal(body, &probe); err == nil {
			orgID = firstNonEmpty(probe.OrganizationID, probe.OrgID)
		}
	}
	if orgID == "" {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "missing organization id"})
		return
	}

	res := h.ingester.IngestRaw(r.Context(), body, providerParam(r, "widget"), models.ChannelWidget, orgID)
	writeResult(w, res)
}

// ServeWhatsApp handles both halves of the Meta webhook contract: the
// GET subscription handshake and POSTed message envelopes. Envelopes may
// carry many messages, so each is flattened and queued independently and
// the provider gets an immediate success.
func (h *Handler) ServeWhatsApp(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.serveWhatsAppHandshake(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "unreadable body"})
		return
	}

	flats := channels.FanOutWhatsApp(body)
	for _, flat := range flats {
		h.queue.Enqueue(flat, "whatsapp", models.ChannelWhatsApp, "")
	}
	slog.Info("whatsapp envelope queued", "messages", len(flats))
	writeJSON(w, http.StatusOK, ingestResponse{Success: true})
}

func (h *Handler) serveWhatsAppHandshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		slog.Warn("whatsapp handshake rejected", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// serveSynchronous runs the shared read-ingest-respond path for channels
// that resolve inline.
func (h *Handler) serveSynchronous(w http.ResponseWriter, r *http.Request, channel models.Channel, orgID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "unreadable body"})
		return
	}
	res := h.ingester.IngestRaw(r.Context(), body, providerParam(r, "generic"), channel, orgID)
	writeResult(w, res)
}

// ServeOAuth routes /oauth/{provider}/authorize and
// /oauth/{provider}/callback.
func (h *Handler) ServeOAuth(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// Expected: ["oauth", "{provider}", "authorize"|"callback"]
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}
	provider, action := parts[1], parts[2]

	switch action {
	case "authorize":
		h.serveAuthorize(w, r, provider)
	case "callback":
		h.serveCallback(w, r, provider)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveAuthorize(w http.ResponseWriter, r *http.Request, provider string) {
	orgID := r.URL.Query().Get("org")
	if orgID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing org parameter"})
		return
	}
	// The org id rides in state and comes back on the callback. The
	// surrounding app layer wraps it in a signed envelope.
	u, err := h.oauth.AuthorizeURL(provider, orgID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (h *Handler) serveCallback(w http.ResponseWriter, r *http.Request, provider string) {
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code or state"})
		return
	}

	integ, err := h.oauth.Complete(r.Context(), state, provider, code)
	if err != nil {
		slog.Error("oauth connect failed", "provider", provider, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "connect failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"integrationId": integ.ID,
		"email":         integ.EmailAddress,
	})
}

// ServeResync triggers a manual lookback resync for a connected mailbox.
func (h *Handler) ServeResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		IntegrationID string `json:"integrationId"`
		LookbackDays  int    `json:"lookbackDays"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IntegrationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing integrationId"})
		return
	}
	if err := h.oauth.Resync(r.Context(), req.IntegrationID, req.LookbackDays); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ServeHealth reports backing-service reachability and queue depth.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := map[string]any{
		"status":      "ok",
		"queue_depth": h.queue.Depth(),
	}
	report["database"] = h.pingReport(r.Context(), h.db)
	report["redis"] = h.pingReport(r.Context(), h.cache)
	if report["database"] != "ok" && report["database"] != "skipped" {
		report["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) pingReport(ctx context.Context, p Pinger) string {
	if p == nil {
		return "skipped"
	}
	if err := p.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

// writeResult maps an ingestion outcome to the wire response. Duplicates
// are a success carrying the prior identifiers; deferrals report failure
// without a retryable status; only transient failures earn a 5xx so the
// provider redelivers.
func writeResult(w http.ResponseWriter, res ingest.Result) {
	switch res.Outcome {
	case ingest.OutcomeResolved, ingest.OutcomeDuplicate:
		writeJSON(w, http.StatusOK, ingestResponse{
			Success:   true,
			TicketID:  res.TicketID,
			MessageID: res.MessageID,
		})
	case ingest.OutcomeDeferred:
		writeJSON(w, http.StatusOK, ingestResponse{Error: errText(res.Err)})
	default:
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Error: errText(res.Err)})
	}
}

func errText(err error) string {
	if err == nil {
		return "ingestion failed"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func providerParam(r *http.Request, fallback string) string {
	if p := r.URL.Query().Get("provider"); p != "" {
		return p
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Serve starts the webhook HTTP server on the given port. It binds the
// port immediately and signals readiness via the returned channel before
// accepting connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/email", handler.ServeEmail)
	mux.HandleFunc("/webhooks/sms", handler.ServeSMS)
	mux.HandleFunc("/webhooks/whatsapp", handler.ServeWhatsApp)
	mux.HandleFunc("/webhooks/widget", handler.ServeWidget)
	mux.HandleFunc("/oauth/", handler.ServeOAuth)
	mux.HandleFunc("/integrations/resync", handler.ServeResync)
	mux.HandleFunc("/health", handler.ServeHealth)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
