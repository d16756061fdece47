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
	"strings"

	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// placeholderFirstName is used when a sender supplies no display name.
const placeholderFirstName = "Guest"

// CustomerStore is the contact lookup surface the customer resolver needs.
// Implemented by store.Store.
type CustomerStore interface {
	FindCustomerByExternalKey(ctx context.Context, orgID, key string) (*store.Customer, error)
	FindCustomerByEmail(ctx context.Context, orgID, email string) (*store.Customer, error)
	CreateCustomer(ctx context.Context, c *store.Customer) error
}

// CustomerResolver finds or creates the customer record for a message's
// sender. It always succeeds unless the store itself errors. Concurrent
// first contact can create duplicate customers; that race is accepted as
// best-effort rather than solved with a transaction.
type CustomerResolver struct {
	customers CustomerStore
}

// NewCustomerResolver creates a customer resolver.
func NewCustomerResolver(customers CustomerStore) *CustomerResolver {
	return &CustomerResolver{customers: customers}
}

// Resolve returns the customer for the message's sender, creating one on
// first contact. Identity key precedence: session identifier, then email,
// then a synthesized stable phone key.
func (r *CustomerResolver) Resolve(ctx context.Context, msg *models.CanonicalMessage, orgID string) (*store.Customer, error) {
	key, email := identityKey(msg)

	var existing *store.Customer
	var err error
	switch {
	case key != "":
		existing, err = r.customers.FindCustomerByExternalKey(ctx, orgID, key)
	case email != "":
		existing, err = r.customers.FindCustomerByEmail(ctx, orgID, email)
	default:
		// A sender with no identity at all must never match an existing
		// row; an empty-email lookup would merge unrelated contacts.
	}
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	first, last := SplitName(msg.From.Name)
	c := &store.Customer{
		OrgID:       orgID,
		FirstName:   first,
		LastName:    last,
		Email:       msg.From.Email,
		Phone:       msg.From.Phone,
		ExternalKey: key,
	}
	if err := r.customers.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// identityKey picks the stable lookup key for a sender. A non-empty key
// means external-key lookup; otherwise the email is the identity.
func identityKey(msg *models.CanonicalMessage) (key, email string) {
	if msg.Channel == models.ChannelWidget && msg.SessionID != "" {
		return "session:" + msg.SessionID, ""
	}
	if msg.From.Email != "" {
		return "", msg.From.Email
	}
	if phone := store.NormalizePhone(msg.From.Phone); phone != "" {
		// Repeat contact from the same number converges on one customer
		// even without an address.
		return "phone:" + phone, ""
	}
	return "", ""
}

// SplitName splits a display name: one token becomes the first name, two
// become first/last, three or more put everything after the first token in
// the last name. An absent name yields the placeholder first name.
func SplitName(name string) (first, last string) {
	tokens := strings.Fields(name)
	switch len(tokens) {
	case 0:
		return placeholderFirstName, ""
	case 1:
		return tokens[0], ""
	case 2:
		return tokens[0], tokens[1]
	default:
		return tokens[0], strings.Join(tokens[1:], " ")
	}
}
