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

package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crewdesk/ingestion/internal/ingest"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/queue"
	"github.com/crewdesk/ingestion/internal/storage"
	"github.com/crewdesk/ingestion/internal/store"
)

// Ingester is the orchestrator surface the processor feeds into.
type Ingester interface {
	Ingest(ctx context.Context, msg *models.CanonicalMessage, knownOrgID string) ingest.Result
	IngestRaw(ctx context.Context, raw []byte, provider string, channel models.Channel, knownOrgID string) ingest.Result
}

// IntegrationStore resolves job integration ids. Implemented by
// store.Store.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id string) (*store.Integration, error)
}

// Processor executes work-queue jobs. Mailbox jobs fetch the full
// message from the provider first; webhook jobs carry the raw payload
// and go straight to ingestion.
type Processor struct {
	integrations IntegrationStore
	tokens       *TokenManager
	providers    map[string]Provider
	blobs        storage.BlobStore
	ingester     Ingester
}

// NewProcessor creates the job processor.
func NewProcessor(integrations IntegrationStore, tokens *TokenManager, providers []Provider, blobs storage.BlobStore, ingester Ingester) *Processor {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Processor{
		integrations: integrations,
		tokens:       tokens,
		providers:    byName,
		blobs:        blobs,
		ingester:     ingester,
	}
}

// Process handles one job. A returned error re-queues the job; permanent
// failures are logged and swallowed so the queue drops them.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	var mj models.MailboxJob
	if err := json.Unmarshal(job.Payload, &mj); err == nil && mj.IsMailboxJob() {
		return p.processMailbox(ctx, &mj)
	}

	res := p.ingester.IngestRaw(ctx, job.Payload, job.Provider, job.Channel, job.OrgID)
	if res.Outcome == ingest.OutcomeFailed && ingest.Retryable(res.Err) {
		return res.Err
	}
	return nil
}

func (p *Processor) processMailbox(ctx context.Context, mj *models.MailboxJob) error {
	integ, err := p.integrations.GetIntegration(ctx, mj.IntegrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	if integ == nil {
		slog.Warn("job references unknown integration, dropping", "integration", mj.IntegrationID)
		return nil
	}

	provider := p.providers[mj.Provider]
	if provider == nil {
		slog.Error("no provider for job, dropping",
			"provider", mj.Provider, "integration", mj.IntegrationID)
		return nil
	}

	token, err := p.tokens.Fresh(ctx, integ)
	if err != nil {
		var terminal *ingest.AuthTerminalError
		if errors.As(err, &terminal) {
			// Already marked needs_reauth; retrying cannot help.
			slog.Warn("dropping job for deauthorized integration", "integration", integ.ID)
			return nil
		}
		return err
	}

	msg, err := provider.FetchMessage(ctx, integ, token, mj.MessageID)
	if err != nil {
		return fmt.Errorf("fetch %s message: %w", mj.Provider, err)
	}
	if msg == nil {
		return nil
	}

	if msg.From.Email != "" && store.NormalizeEmail(msg.From.Email) == store.NormalizeEmail(integ.EmailAddress) {
		slog.Debug("skipping self-sent mail", "integration", integ.ID, "message", mj.MessageID)
		return nil
	}

	if err := p.hydrateAttachments(ctx, provider, integ, token, mj.MessageID, msg); err != nil {
		// Never persist a message pointing at an expiring provider URL.
		return err
	}

	msg.IntegrationID = integ.ID
	res := p.ingester.Ingest(ctx, msg, integ.OrgID)
	if res.Outcome == ingest.OutcomeFailed && ingest.Retryable(res.Err) {
		return res.Err
	}
	return nil
}

// hydrateAttachments copies attachment bytes from the provider to
// durable storage and rewrites each attachment's location.
func (p *Processor) hydrateAttachments(ctx context.Context, provider Provider, integ *store.Integration, token, messageID string, msg *models.CanonicalMessage) error {
	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if att.MediaID == "" {
			continue
		}
		data, err := provider.FetchAttachment(ctx, integ, token, messageID, att.MediaID)
		if err != nil {
			return fmt.Errorf("fetch attachment %s: %w", att.MediaID, err)
		}
		location, err := p.blobs.Put(ctx, integ.OrgID, att.Filename, data)
		if err != nil {
			return fmt.Errorf("store attachment %s: %w", att.MediaID, err)
		}
		att.Location = location
		if att.Size == 0 {
			att.Size = int64(len(data))
		}
	}
	return nil
}
