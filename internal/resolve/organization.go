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

// Package resolve maps canonical messages to tenants, customers, and
// tickets. Resolution works from partial signals under a strict precedence
// order; resolver failures never lose a message.
package resolve

import (
	"context"

	"github.com/crewdesk/ingestion/internal/channels"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// Directory is the tenant lookup surface the organization resolver needs.
// Implemented by store.Store.
type Directory interface {
	FindOrgByPrimaryEmail(ctx context.Context, email string) (*store.Organization, error)
	FindOrgByAdditionalEmail(ctx context.Context, email string) (*store.Organization, error)
	FindOrgByPrimaryPhone(ctx context.Context, phone string) (*store.Organization, error)
	FindOrgByAdditionalPhone(ctx context.Context, phone string) (*store.Organization, error)
	FindIntegrationByEmail(ctx context.Context, providers []string, email string) (*store.Integration, error)
	FindIntegrationByPhone(ctx context.Context, phone string) (*store.Integration, error)
	FindIntegrationByPhoneNumberID(ctx context.Context, phoneNumberID string) (*store.Integration, error)
}

// OrganizationResolver maps a message's recipient identity to a tenant.
type OrganizationResolver struct {
	dir Directory
}

// NewOrganizationResolver creates an organization resolver.
func NewOrganizationResolver(dir Directory) *OrganizationResolver {
	return &OrganizationResolver{dir: dir}
}

// mailProviders is the integration provider family matched for the email
// channel.
var mailProviders = []string{"gmail", "outlook"}

// Resolve returns the tenant id for a message, or "" when no tenant
// matches. Matching precedence, first match wins:
//
//  1. recipient equals a tenant's primary support address
//  2. recipient is in a tenant's additional-address set
//  3. recipient equals an active integration's mailbox address
//  4. phone-bearing channels: primary phone, additional phones,
//     integration phone, integration phone-number-id
//
// When a match comes through an integration, its id is recorded on the
// message for default-assignee routing.
func (r *OrganizationResolver) Resolve(ctx context.Context, msg *models.CanonicalMessage) (string, error) {
	emails := recipientEmails(msg)

	for _, email := range emails {
		org, err := r.dir.FindOrgByPrimaryEmail(ctx, email)
		if err != nil {
			return "", err
		}
		if org != nil {
			return org.ID, nil
		}
	}

	for _, email := range emails {
		org, err := r.dir.FindOrgByAdditionalEmail(ctx, email)
		if err != nil {
			return "", err
		}
		if org != nil {
			return org.ID, nil
		}
	}

	for _, email := range emails {
		integ, err := r.dir.FindIntegrationByEmail(ctx, mailProviders, email)
		if err != nil {
			return "", err
		}
		if integ != nil {
			msg.IntegrationID = integ.ID
			return integ.OrgID, nil
		}
	}

	if phone := store.NormalizePhone(msg.To.Phone); phone != "" {
		org, err := r.dir.FindOrgByPrimaryPhone(ctx, phone)
		if err != nil {
			return "", err
		}
		if org != nil {
			return org.ID, nil
		}

		org, err = r.dir.FindOrgByAdditionalPhone(ctx, phone)
		if err != nil {
			return "", err
		}
		if org != nil {
			return org.ID, nil
		}

		integ, err := r.dir.FindIntegrationByPhone(ctx, phone)
		if err != nil {
			return "", err
		}
		if integ != nil {
			msg.IntegrationID = integ.ID
			return integ.OrgID, nil
		}
	}

	// Provider-supplied routing id, exact match
	if nid := msg.Meta("phone_number_id"); nid != "" {
		integ, err := r.dir.FindIntegrationByPhoneNumberID(ctx, nid)
		if err != nil {
			return "", err
		}
		if integ != nil {
			msg.IntegrationID = integ.ID
			return integ.OrgID, nil
		}
	}

	return "", nil
}

// recipientEmails collects every plausible recipient address: the primary
// To, the CC set, and any secondary delivered-to field in provider
// metadata. The tenant's support address is sometimes only in CC.
func recipientEmails(msg *models.CanonicalMessage) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(raw string) {
		for _, addr := range channels.SplitAddressList(raw) {
			norm := store.NormalizeEmail(addr)
			if norm != "" && !seen[norm] {
				seen[norm] = true
				out = append(out, norm)
			}
		}
	}

	add(msg.To.Email)
	for _, cc := range msg.CC {
		add(cc)
	}
	add(msg.Meta("delivered_to"))
	return out
}
