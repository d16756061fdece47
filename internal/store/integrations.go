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
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Integration status values. StatusNeedsReauth is terminal until the
// tenant completes a new OAuth flow; polling skips such records.
const (
	IntegrationActive      = "active"
	IntegrationNeedsReauth = "needs_reauth"
	IntegrationError       = "error"
)

// Integration is a tenant's connected mailbox or social account.
type Integration struct {
	ID                string
	OrgID             string
	Provider          string // gmail | outlook | whatsapp | instagram
	EmailAddress      string
	PhoneNumber       string
	PhoneNumberID     string
	Active            bool
	Status            string
	AccessToken       string
	RefreshToken      string
	TokenExpiry       *time.Time
	SyncCursor        string // provider-specific watermark: delta link or history id
	LastSyncedAt      *time.Time
	DefaultAssigneeID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const integrationColumns = `id, org_id, provider, email_address, phone_number, phone_number_id,
	active, status, access_token, refresh_token, token_expiry, sync_cursor,
	last_synced_at, default_assignee_id, created_at, updated_at`

func scanIntegration(row pgx.Row) (*Integration, error) {
	var i Integration
	err := row.Scan(&i.ID, &i.OrgID, &i.Provider, &i.EmailAddress, &i.PhoneNumber,
		&i.PhoneNumberID, &i.Active, &i.Status, &i.AccessToken, &i.RefreshToken,
		&i.TokenExpiry, &i.SyncCursor, &i.LastSyncedAt, &i.DefaultAssigneeID,
		&i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// GetIntegration retrieves an integration by id.
func (s *Store) GetIntegration(ctx context.Context, id string) (*Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+`
		FROM channel_integrations
		WHERE id = $1
	`, id)
	return scanIntegration(row)
}

// FindIntegrationByEmail returns an active integration of one of the given
// providers whose mailbox address equals the given email.
func (s *Store) FindIntegrationByEmail(ctx context.Context, providers []string, email string) (*Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+`
		FROM channel_integrations
		WHERE active AND provider = ANY($1) AND email_address = $2
		LIMIT 1
	`, providers, NormalizeEmail(email))
	return scanIntegration(row)
}

// FindIntegrationByPhone returns an active integration matching the given
// normalized phone number.
func (s *Store) FindIntegrationByPhone(ctx context.Context, phone string) (*Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+`
		FROM channel_integrations
		WHERE active AND phone_number = $1
		LIMIT 1
	`, NormalizePhone(phone))
	return scanIntegration(row)
}

// FindIntegrationByPhoneNumberID matches a provider-supplied routing id
// exactly (WhatsApp phone-number-id).
func (s *Store) FindIntegrationByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+`
		FROM channel_integrations
		WHERE active AND phone_number_id = $1
		LIMIT 1
	`, phoneNumberID)
	return scanIntegration(row)
}

// ListActiveIntegrations returns all pollable integrations for a provider.
// Records in needs_reauth are excluded even if still flagged active.
func (s *Store) ListActiveIntegrations(ctx context.Context, provider string) ([]Integration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+integrationColumns+`
		FROM channel_integrations
		WHERE active AND status = 'active' AND provider = $1
		ORDER BY created_at
	`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// UpsertIntegration inserts or updates an integration keyed on
// (org_id, provider, email_address). Used by the OAuth callback.
func (s *Store) UpsertIntegration(ctx context.Context, i *Integration) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	i.EmailAddress = NormalizeEmail(i.EmailAddress)
	i.PhoneNumber = NormalizePhone(i.PhoneNumber)

	// No composite unique constraint: look up first, then insert or update.
	existing, err := s.pool.Query(ctx, `
		SELECT id FROM channel_integrations
		WHERE org_id = $1 AND provider = $2 AND email_address = $3
		LIMIT 1
	`, i.OrgID, i.Provider, i.EmailAddress)
	if err != nil {
		return err
	}
	var existingID string
	if existing.Next() {
		if err := existing.Scan(&existingID); err != nil {
			existing.Close()
			return err
		}
	}
	existing.Close()
	if err := existing.Err(); err != nil {
		return err
	}

	if existingID != "" {
		i.ID = existingID
		_, err = s.pool.Exec(ctx, `
			UPDATE channel_integrations SET
				phone_number = $2, phone_number_id = $3, active = TRUE,
				status = 'active', access_token = $4, refresh_token = $5,
				token_expiry = $6, default_assignee_id = $7, updated_at = NOW()
			WHERE id = $1
		`, i.ID, i.PhoneNumber, i.PhoneNumberID, i.AccessToken, i.RefreshToken,
			i.TokenExpiry, i.DefaultAssigneeID)
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO channel_integrations
			(id, org_id, provider, email_address, phone_number, phone_number_id,
			 active, status, access_token, refresh_token, token_expiry, default_assignee_id)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, 'active', $7, $8, $9, $10)
	`, i.ID, i.OrgID, i.Provider, i.EmailAddress, i.PhoneNumber, i.PhoneNumberID,
		i.AccessToken, i.RefreshToken, i.TokenExpiry, i.DefaultAssigneeID)
	return err
}

// UpdateIntegrationTokens persists refreshed credentials.
func (s *Store) UpdateIntegrationTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_integrations SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expiry = $4,
			updated_at = NOW()
		WHERE id = $1
	`, id, accessToken, refreshToken, expiry)
	return err
}

// MarkIntegrationNeedsReauth flips an integration to the needs_reauth
// terminal state and deactivates polling for it.
func (s *Store) MarkIntegrationNeedsReauth(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_integrations SET
			status = 'needs_reauth', active = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// SaveIntegrationWatermark records how far a poll cycle has consumed.
func (s *Store) SaveIntegrationWatermark(ctx context.Context, id, cursor string, syncedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_integrations SET
			sync_cursor = $2, last_synced_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, cursor, syncedAt)
	return err
}

// RewindIntegrationWatermark moves the sync watermark back for a manual
// resync over the given lookback window. The provider cursor is cleared so
// the next cycle re-queries by time.
func (s *Store) RewindIntegrationWatermark(ctx context.Context, id string, lookback time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channel_integrations SET
			sync_cursor = '', last_synced_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, time.Now().Add(-lookback))
	return err
}
