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

// Package mailbox polls connected mailboxes for new messages and feeds
// them into the ingestion pipeline through the work queue. Two provider
// variants share one contract: Gmail (time watermark) and Outlook
// (Graph delta link).
package mailbox

import (
	"context"
	"time"

	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// ListResult is one poll cycle's enumeration for an integration.
type ListResult struct {
	MessageIDs []string
	// Cursor is the provider continuation state to persist (delta link
	// for Outlook, empty for time-watermark providers).
	Cursor string
}

// Provider enumerates and fetches mailbox messages for one mail service.
type Provider interface {
	Name() string

	// ListNewMessages enumerates message ids newer than the watermark,
	// following provider pagination up to maxPages.
	ListNewMessages(ctx context.Context, integ *store.Integration, accessToken string, since time.Time, maxPages int) (*ListResult, error)

	// FetchMessage retrieves one full message as a canonical message.
	// Returns nil for messages that vanished between listing and fetch.
	FetchMessage(ctx context.Context, integ *store.Integration, accessToken, messageID string) (*models.CanonicalMessage, error)

	// FetchAttachment downloads one attachment's bytes. The id comes
	// from the canonical message's attachment MediaID.
	FetchAttachment(ctx context.Context, integ *store.Integration, accessToken, messageID, attachmentID string) ([]byte, error)
}
