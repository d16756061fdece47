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

	"github.com/jackc/pgx/v5"
)

// Organization is a tenant. Owned by tenant-management code; read-only
// from the ingestion subsystem's perspective.
type Organization struct {
	ID               string
	Name             string
	Active           bool
	SupportEmail     string
	AdditionalEmails []string
	SupportPhone     string
	AdditionalPhones []string
	CreatedAt        time.Time
}

const orgColumns = `id, name, active, support_email, additional_emails, support_phone, additional_phones, created_at`

func scanOrganization(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Active, &o.SupportEmail, &o.AdditionalEmails,
		&o.SupportPhone, &o.AdditionalPhones, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindOrgByPrimaryEmail returns the active organization whose primary
// support address equals the given (normalized) email.
func (s *Store) FindOrgByPrimaryEmail(ctx context.Context, email string) (*Organization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orgColumns+`
		FROM organizations
		WHERE active AND support_email = $1
		LIMIT 1
	`, NormalizeEmail(email))
	return scanOrganization(row)
}

// FindOrgByAdditionalEmail returns the active organization whose
// additional-address set contains the given email.
func (s *Store) FindOrgByAdditionalEmail(ctx context.Context, email string) (*Organization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orgColumns+`
		FROM organizations
		WHERE active AND $1 = ANY(additional_emails)
		LIMIT 1
	`, NormalizeEmail(email))
	return scanOrganization(row)
}

// FindOrgByPrimaryPhone returns the active organization whose primary
// support phone equals the given (normalized) number.
func (s *Store) FindOrgByPrimaryPhone(ctx context.Context, phone string) (*Organization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orgColumns+`
		FROM organizations
		WHERE active AND support_phone = $1
		LIMIT 1
	`, NormalizePhone(phone))
	return scanOrganization(row)
}

// FindOrgByAdditionalPhone returns the active organization whose
// additional-phone set contains the given number.
func (s *Store) FindOrgByAdditionalPhone(ctx context.Context, phone string) (*Organization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orgColumns+`
		FROM organizations
		WHERE active AND $1 = ANY(additional_phones)
		LIMIT 1
	`, NormalizePhone(phone))
	return scanOrganization(row)
}

// GetOrganization retrieves an organization by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orgColumns+`
		FROM organizations
		WHERE id = $1
	`, id)
	return scanOrganization(row)
}
