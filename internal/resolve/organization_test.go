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

package resolve

import (
	"context"
	"testing"

	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

func TestOrganizationResolver_PrimaryEmail(t *testing.T) {
	f := newFakeStore()
	f.orgs = []store.Organization{
		{ID: "org-a", Active: true, SupportEmail: "support@acme.io"},
	}
	r := NewOrganizationResolver(f)

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		To:      models.Identity{Email: "Support@ACME.io"},
	}
	orgID, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != "org-a" {
		t.Errorf("orgID = %q, want org-a", orgID)
	}
}

// TestOrganizationResolver_RulePrecedence verifies that a tenant's
// additional-address match (rule 2) beats another tenant's
// integration-address match (rule 3).
func TestOrganizationResolver_RulePrecedence(t *testing.T) {
	f := newFakeStore()
	f.orgs = []store.Organization{
		{ID: "org-a", Active: true, SupportEmail: "support@a.io",
			AdditionalEmails: []string{"help@a.io"}},
	}
	f.integrations = []store.Integration{
		{ID: "int-b", OrgID: "org-b", Provider: "gmail", Active: true,
			EmailAddress: "inbox@b.io"},
	}
	r := NewOrganizationResolver(f)

	// Addressed to org-b's integration mailbox, but org-a's additional
	// address is in CC.
	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		To:      models.Identity{Email: "inbox@b.io"},
		CC:      []string{"help@a.io"},
	}
	orgID, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != "org-a" {
		t.Errorf("orgID = %q, want org-a (rule 2 precedes rule 3)", orgID)
	}
	if msg.IntegrationID != "" {
		t.Errorf("integration id should not be set on a non-integration match")
	}
}

func TestOrganizationResolver_IntegrationMatchRecordsID(t *testing.T) {
	f := newFakeStore()
	f.integrations = []store.Integration{
		{ID: "int-1", OrgID: "org-a", Provider: "outlook", Active: true,
			EmailAddress: "inbox@a.io", DefaultAssigneeID: "agent-7"},
	}
	r := NewOrganizationResolver(f)

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		To:      models.Identity{Email: "inbox@a.io"},
	}
	orgID, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != "org-a" {
		t.Errorf("orgID = %q", orgID)
	}
	if msg.IntegrationID != "int-1" {
		t.Errorf("integration id = %q, want int-1", msg.IntegrationID)
	}
}

func TestOrganizationResolver_CCOnlyMatch(t *testing.T) {
	f := newFakeStore()
	f.orgs = []store.Organization{
		{ID: "org-a", Active: true, SupportEmail: "support@a.io"},
	}
	r := NewOrganizationResolver(f)

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		To:      models.Identity{Email: "someone@else.com"},
		CC:      []string{"support@a.io"},
	}
	orgID, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != "org-a" {
		t.Errorf("orgID = %q, want org-a via CC", orgID)
	}
}

func TestOrganizationResolver_PhonePrecedence(t *testing.T) {
	f := newFakeStore()
	f.orgs = []store.Organization{
		{ID: "org-a", Active: true, SupportPhone: "+15550001111"},
	}
	f.integrations = []store.Integration{
		{ID: "int-wa", OrgID: "org-b", Provider: "whatsapp", Active: true,
			PhoneNumber: "+15550001111"},
	}
	r := NewOrganizationResolver(f)

	// Provider formatting variants normalize before comparison.
	msg := &models.CanonicalMessage{
		Channel: models.ChannelSMS,
		To:      models.Identity{Phone: "+1 (555) 000-1111"},
	}
	orgID, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != "org-a" {
		t.Errorf("orgID = %q, want org-a (primary phone precedes integration)", orgID)
	}
}

func TestOrganizationResolver_PhoneNumberID(t *testing.T) {
	f := newFakeStore()
	f.integrations = []store.Integration{
		{ID: "int-wa", OrgID: "org-b", Provider: "whatsapp", Active: true,
			PhoneNumberID: "pnid-9"},
	}
	r := NewOrganizationResolver(f)

	msg := &models.CanonicalMessage{Channel: models.ChannelWhatsApp}
	msg.SetMeta("phone_number_id", "pnid-9")

	orgID, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != "org-b" {
		t.Errorf("orgID = %q, want org-b via routing id", orgID)
	}
	if msg.IntegrationID != "int-wa" {
		t.Errorf("integration id = %q", msg.IntegrationID)
	}
}

func TestOrganizationResolver_NoMatch(t *testing.T) {
	r := NewOrganizationResolver(newFakeStore())
	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		To:      models.Identity{Email: "nobody@nowhere.io"},
	}
	orgID, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orgID != "" {
		t.Errorf("orgID = %q, want none", orgID)
	}
}
