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

// Customer is a tenant-scoped contact record. ExternalKey carries the
// stable identity for contacts without an email address (session ids,
// synthesized phone keys).
type Customer struct {
	ID          string
	OrgID       string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	ExternalKey string
	CreatedAt   time.Time
}

const customerColumns = `id, org_id, first_name, last_name, email, phone, external_key, created_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.OrgID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.ExternalKey, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCustomerByEmail looks up a customer by normalized email.
func (s *Store) FindCustomerByEmail(ctx context.Context, orgID, email string) (*Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE org_id = $1 AND email = $2
		ORDER BY created_at
		LIMIT 1
	`, orgID, NormalizeEmail(email))
	return scanCustomer(row)
}

// FindCustomerByExternalKey looks up a customer by its stable external key.
func (s *Store) FindCustomerByExternalKey(ctx context.Context, orgID, key string) (*Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE org_id = $1 AND external_key = $2
		ORDER BY created_at
		LIMIT 1
	`, orgID, key)
	return scanCustomer(row)
}

// CreateCustomer inserts a new customer record. Concurrent first contact
// can race here; duplicate creation is accepted as best-effort.
func (s *Store) CreateCustomer(ctx context.Context, c *Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Email = NormalizeEmail(c.Email)
	c.Phone = NormalizePhone(c.Phone)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, org_id, first_name, last_name, email, phone, external_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.OrgID, c.FirstName, c.LastName, c.Email, c.Phone, c.ExternalKey)
	return err
}

// Agent is an internal user of a tenant.
type Agent struct {
	ID     string
	OrgID  string
	Email  string
	Name   string
	Active bool
}

// FindAgentByEmail looks up an active agent by email within a tenant. Used
// to classify inbound messages sent by internal staff.
func (s *Store) FindAgentByEmail(ctx context.Context, orgID, email string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, org_id, email, name, active
		FROM agents
		WHERE org_id = $1 AND active AND email = $2
		LIMIT 1
	`, orgID, NormalizeEmail(email))
	var a Agent
	err := row.Scan(&a.ID, &a.OrgID, &a.Email, &a.Name, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
