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
	"log/slog"
	"sync"
	"time"

	"github.com/crewdesk/ingestion/internal/ingest"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// SyncStore is the integration surface the syncer polls against.
// Implemented by store.Store.
type SyncStore interface {
	ListActiveIntegrations(ctx context.Context, provider string) ([]store.Integration, error)
	SaveIntegrationWatermark(ctx context.Context, id, cursor string, syncedAt time.Time) error
}

// Enqueuer hands discovered messages to the work queue.
type Enqueuer interface {
	Enqueue(payload []byte, provider string, channel models.Channel, orgID string) string
}

// RedeliveryFilter drops message ids already enqueued by an earlier
// cycle. Implemented by dedup.Filter; nil disables the check.
type RedeliveryFilter interface {
	IsNew(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Syncer drives the polling loop over all providers. One sync per
// integration runs at a time: overlapping ticks skip in-flight records
// instead of queueing behind them.
type Syncer struct {
	store     SyncStore
	tokens    *TokenManager
	providers []Provider
	queue     Enqueuer
	filter    RedeliveryFilter
	interval  time.Duration
	maxPages  int

	mu       sync.Mutex
	inFlight map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates the polling scheduler.
func NewSyncer(st SyncStore, tokens *TokenManager, providers []Provider, queue Enqueuer, filter RedeliveryFilter, interval time.Duration, maxPages int) *Syncer {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxPages < 1 {
		maxPages = 10
	}
	return &Syncer{
		store:     st,
		tokens:    tokens,
		providers: providers,
		queue:     queue,
		filter:    filter,
		interval:  interval,
		maxPages:  maxPages,
		inFlight:  make(map[string]bool),
	}
}

// Start launches the ticker loop.
func (s *Syncer) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.CycleAll(loopCtx)
			}
		}
	}()

	slog.Info("mailbox polling started", "interval", s.interval, "providers", len(s.providers))
}

// Stop halts the loop and waits for a running cycle to finish.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// CycleAll runs one poll cycle across every provider and integration.
func (s *Syncer) CycleAll(ctx context.Context) {
	for _, p := range s.providers {
		integrations, err := s.store.ListActiveIntegrations(ctx, p.Name())
		if err != nil {
			slog.Error("list integrations failed", "provider", p.Name(), "error", err)
			continue
		}
		for i := range integrations {
			s.SyncOne(ctx, p, &integrations[i])
		}
	}
}

// SyncOne polls a single integration: refresh the token, enumerate
// messages since the watermark, enqueue one job per discovered message,
// then advance the watermark. A transient failure leaves the watermark
// untouched so the next cycle retries the same span.
func (s *Syncer) SyncOne(ctx context.Context, p Provider, integ *store.Integration) {
	if !s.begin(integ.ID) {
		slog.Debug("sync already in flight, skipping", "integration", integ.ID)
		return
	}
	defer s.end(integ.ID)

	token, err := s.tokens.Fresh(ctx, integ)
	if err != nil {
		var terminal *ingest.AuthTerminalError
		if errors.As(err, &terminal) {
			slog.Info("integration needs reauthorization, polling disabled",
				"integration", integ.ID, "provider", p.Name())
		} else {
			slog.Error("token refresh failed", "integration", integ.ID, "error", err)
		}
		return
	}

	since := s.watermark(integ)
	start := time.Now()
	result, err := p.ListNewMessages(ctx, integ, token, since, s.maxPages)
	if err != nil {
		slog.Error("mailbox enumeration failed",
			"integration", integ.ID, "provider", p.Name(), "error", err)
		return
	}

	enqueued := 0
	for _, messageID := range result.MessageIDs {
		deliveryKey := "mailbox:" + integ.ID + ":" + messageID
		if s.filter != nil {
			isNew, err := s.filter.IsNew(ctx, deliveryKey)
			if err != nil {
				slog.Warn("redelivery check failed", "integration", integ.ID, "error", err)
			} else if !isNew {
				continue
			}
		}
		payload, err := json.Marshal(models.MailboxJob{
			IntegrationID: integ.ID,
			MessageID:     messageID,
			Provider:      p.Name(),
		})
		if err != nil {
			slog.Error("marshal mailbox job failed", "message", messageID, "error", err)
			continue
		}
		if id := s.queue.Enqueue(payload, p.Name(), models.ChannelEmail, integ.OrgID); id == "" {
			// The queue only refuses during shutdown. Unmark the delivery
			// and leave the watermark alone so the next cycle re-enumerates
			// this span instead of losing the message.
			if s.filter != nil {
				if err := s.filter.Forget(ctx, deliveryKey); err != nil {
					slog.Warn("unmark refused delivery failed",
						"integration", integ.ID, "message", messageID, "error", err)
				}
			}
			slog.Warn("queue refused mailbox job, deferring cycle",
				"integration", integ.ID, "message", messageID)
			return
		}
		enqueued++
	}

	if err := s.store.SaveIntegrationWatermark(ctx, integ.ID, result.Cursor, start); err != nil {
		slog.Error("save watermark failed", "integration", integ.ID, "error", err)
		return
	}

	if enqueued > 0 {
		slog.Info("mailbox sync cycle complete",
			"integration", integ.ID,
			"provider", p.Name(),
			"discovered", len(result.MessageIDs),
			"enqueued", enqueued)
	}
}

// watermark picks where this cycle's enumeration starts. First run uses
// the integration's creation time so history from before the connection
// is never ingested.
func (s *Syncer) watermark(integ *store.Integration) time.Time {
	if integ.LastSyncedAt != nil && !integ.LastSyncedAt.IsZero() {
		return *integ.LastSyncedAt
	}
	return integ.CreatedAt
}

func (s *Syncer) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Syncer) end(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
