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

import "context"

// ensureSchema creates the ingestion tables if they do not exist.
// Email columns are stored lowercased and phone columns normalized
// (digits plus optional leading '+'); writers use NormalizeEmail and
// NormalizePhone so lookups can compare equality directly.
func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS organizations (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL DEFAULT '',
			active            BOOLEAN NOT NULL DEFAULT TRUE,
			support_email     TEXT NOT NULL DEFAULT '',
			additional_emails TEXT[] NOT NULL DEFAULT '{}',
			support_phone     TEXT NOT NULL DEFAULT '',
			additional_phones TEXT[] NOT NULL DEFAULT '{}',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orgs_support_email ON organizations(support_email);

		CREATE TABLE IF NOT EXISTS channel_integrations (
			id                  TEXT PRIMARY KEY,
			org_id              TEXT NOT NULL,
			provider            TEXT NOT NULL,
			email_address       TEXT NOT NULL DEFAULT '',
			phone_number        TEXT NOT NULL DEFAULT '',
			phone_number_id     TEXT NOT NULL DEFAULT '',
			active              BOOLEAN NOT NULL DEFAULT TRUE,
			status              TEXT NOT NULL DEFAULT 'active',
			access_token        TEXT NOT NULL DEFAULT '',
			refresh_token       TEXT NOT NULL DEFAULT '',
			token_expiry        TIMESTAMPTZ,
			sync_cursor         TEXT NOT NULL DEFAULT '',
			last_synced_at      TIMESTAMPTZ,
			default_assignee_id TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_integrations_provider ON channel_integrations(provider) WHERE active;
		CREATE INDEX IF NOT EXISTS idx_integrations_email ON channel_integrations(email_address);
		CREATE INDEX IF NOT EXISTS idx_integrations_phone ON channel_integrations(phone_number);

		CREATE TABLE IF NOT EXISTS customers (
			id           TEXT PRIMARY KEY,
			org_id       TEXT NOT NULL,
			first_name   TEXT NOT NULL DEFAULT '',
			last_name    TEXT NOT NULL DEFAULT '',
			email        TEXT NOT NULL DEFAULT '',
			phone        TEXT NOT NULL DEFAULT '',
			external_key TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_customers_email ON customers(org_id, email);
		CREATE INDEX IF NOT EXISTS idx_customers_key ON customers(org_id, external_key);

		CREATE TABLE IF NOT EXISTS agents (
			id     TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			email  TEXT NOT NULL DEFAULT '',
			name   TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS idx_agents_email ON agents(org_id, email);

		CREATE TABLE IF NOT EXISTS tickets (
			id          TEXT PRIMARY KEY,
			org_id      TEXT NOT NULL,
			display_id  TEXT NOT NULL,
			customer_id TEXT NOT NULL DEFAULT '',
			assignee_id TEXT NOT NULL DEFAULT '',
			subject     TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'open',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(org_id, display_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_customer ON tickets(org_id, customer_id);

		CREATE TABLE IF NOT EXISTS threads (
			id          TEXT PRIMARY KEY,
			org_id      TEXT NOT NULL,
			ticket_id   TEXT NOT NULL,
			customer_id TEXT NOT NULL DEFAULT '',
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			session_id  TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_threads_ticket ON threads(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_threads_session ON threads(org_id, session_id) WHERE session_id <> '';
		CREATE INDEX IF NOT EXISTS idx_threads_customer ON threads(org_id, customer_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			org_id      TEXT NOT NULL,
			thread_id   TEXT NOT NULL,
			channel     TEXT NOT NULL,
			author_type TEXT NOT NULL DEFAULT 'customer',
			author_id   TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			raw_body    TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			attachments JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(org_id, external_id) WHERE external_id <> '';
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS manual_review (
			id             TEXT PRIMARY KEY,
			channel        TEXT NOT NULL DEFAULT '',
			reason         TEXT NOT NULL DEFAULT '',
			raw_payload    TEXT NOT NULL DEFAULT '',
			sender_hint    TEXT NOT NULL DEFAULT '',
			recipient_hint TEXT NOT NULL DEFAULT '',
			content_hint   TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'pending',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_review_status ON manual_review(status);
	`)
	return err
}
