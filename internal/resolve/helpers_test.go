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
	"errors"
	"slices"

	"github.com/crewdesk/ingestion/internal/store"
)

// fakeStore is an in-memory implementation of the resolver interfaces.
type fakeStore struct {
	orgs         []store.Organization
	integrations []store.Integration
	customers    []store.Customer
	tickets      map[string]*store.Ticket
	threads      map[string]*store.Thread
	messages     map[string]*store.Message // keyed by external id
	recent       []store.Thread            // returned by RecentActiveThreads

	created []*store.Customer
	// failLookups makes every lookup error, to exercise swallow behavior.
	failLookups bool
}

var errFake = errors.New("store unavailable")

func newFakeStore() *fakeStore {
	return &fakeStore{
		tickets:  make(map[string]*store.Ticket),
		threads:  make(map[string]*store.Thread),
		messages: make(map[string]*store.Message),
	}
}

func (f *fakeStore) FindOrgByPrimaryEmail(_ context.Context, email string) (*store.Organization, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.orgs {
		if f.orgs[i].Active && f.orgs[i].SupportEmail == email {
			return &f.orgs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindOrgByAdditionalEmail(_ context.Context, email string) (*store.Organization, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.orgs {
		if f.orgs[i].Active && slices.Contains(f.orgs[i].AdditionalEmails, email) {
			return &f.orgs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindOrgByPrimaryPhone(_ context.Context, phone string) (*store.Organization, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.orgs {
		if f.orgs[i].Active && f.orgs[i].SupportPhone == phone {
			return &f.orgs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindOrgByAdditionalPhone(_ context.Context, phone string) (*store.Organization, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.orgs {
		if f.orgs[i].Active && slices.Contains(f.orgs[i].AdditionalPhones, phone) {
			return &f.orgs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindIntegrationByEmail(_ context.Context, providers []string, email string) (*store.Integration, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.integrations {
		in := &f.integrations[i]
		if in.Active && slices.Contains(providers, in.Provider) && in.EmailAddress == email {
			return in, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindIntegrationByPhone(_ context.Context, phone string) (*store.Integration, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.integrations {
		if f.integrations[i].Active && f.integrations[i].PhoneNumber == phone {
			return &f.integrations[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindIntegrationByPhoneNumberID(_ context.Context, id string) (*store.Integration, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.integrations {
		if f.integrations[i].Active && f.integrations[i].PhoneNumberID == id {
			return &f.integrations[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindCustomerByExternalKey(_ context.Context, orgID, key string) (*store.Customer, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.customers {
		if f.customers[i].OrgID == orgID && f.customers[i].ExternalKey == key {
			return &f.customers[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindCustomerByEmail(_ context.Context, orgID, email string) (*store.Customer, error) {
	if f.failLookups {
		return nil, errFake
	}
	for i := range f.customers {
		if f.customers[i].OrgID == orgID && f.customers[i].Email == email {
			return &f.customers[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateCustomer(_ context.Context, c *store.Customer) error {
	if f.failLookups {
		return errFake
	}
	c.ID = "cust-" + c.FirstName
	f.customers = append(f.customers, *c)
	f.created = append(f.created, c)
	return nil
}

func (f *fakeStore) FindMessageByExternalID(_ context.Context, orgID, externalID string) (*store.Message, error) {
	if f.failLookups {
		return nil, errFake
	}
	m := f.messages[externalID]
	if m == nil || m.OrgID != orgID {
		return nil, nil
	}
	return m, nil
}

func (f *fakeStore) GetThread(_ context.Context, id string) (*store.Thread, error) {
	if f.failLookups {
		return nil, errFake
	}
	return f.threads[id], nil
}

func (f *fakeStore) GetTicket(_ context.Context, id string) (*store.Ticket, error) {
	if f.failLookups {
		return nil, errFake
	}
	return f.tickets[id], nil
}

func (f *fakeStore) FindTicketByDisplayID(_ context.Context, orgID, displayID string) (*store.Ticket, error) {
	if f.failLookups {
		return nil, errFake
	}
	for _, t := range f.tickets {
		if t.OrgID == orgID && t.DisplayID == displayID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindThreadBySession(_ context.Context, orgID, sessionID string) (*store.Thread, error) {
	if f.failLookups {
		return nil, errFake
	}
	for _, th := range f.threads {
		if th.OrgID == orgID && th.Active && th.SessionID == sessionID {
			return th, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) RecentActiveThreads(_ context.Context, orgID, customerID string, limit int) ([]store.Thread, error) {
	if f.failLookups {
		return nil, errFake
	}
	var out []store.Thread
	for _, th := range f.recent {
		if th.OrgID == orgID && th.CustomerID == customerID && th.Active {
			out = append(out, th)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
