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

// Package models defines the data structures shared across the ingestion service.
package models

// Channel identifies the source channel of an inbound message.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWidget   Channel = "widget"
)

// AuthorType classifies who authored a stored message.
type AuthorType string

const (
	AuthorCustomer AuthorType = "customer"
	AuthorAgent    AuthorType = "agent"
	AuthorAI       AuthorType = "ai"
	AuthorSystem   AuthorType = "system"
)

// Identity is a sender or recipient: an email and/or phone with an
// optional display name. Either field may be empty depending on channel.
type Identity struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Attachment describes a file attached to a message. Location is a durable
// path once the message reaches the orchestrator; MediaID is the provider's
// handle before hydration.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size,omitempty"`
	Location    string `json:"location,omitempty"`
	MediaID     string `json:"media_id,omitempty"`
}

// CanonicalMessage is the channel-agnostic normalized form produced by a
// channel parser and consumed by the resolvers. Content is never nil
// (empty string permitted); Channel is always set.
type CanonicalMessage struct {
	Channel Channel `json:"channel"`

	From Identity `json:"from"`
	To   Identity `json:"to"`
	// CC holds additional recipient addresses beyond To. Tenant support
	// addresses sometimes appear only here.
	CC []string `json:"cc,omitempty"`

	Subject string `json:"subject,omitempty"`
	Content string `json:"content"`
	RawBody string `json:"raw_body,omitempty"`

	// ExternalID is the provider's message identifier (dedup key).
	ExternalID string `json:"external_id,omitempty"`
	// InReplyTo and References carry threading identifiers from the
	// provider, angle brackets included as delivered.
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`
	// SessionID is an externally supplied thread/session identifier
	// (widget sessions, chat continuity).
	SessionID string `json:"session_id,omitempty"`

	Metadata    map[string]string `json:"metadata,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`

	// IntegrationID is set when organization resolution matched through a
	// channel integration; used downstream for default-assignee routing.
	IntegrationID string `json:"integration_id,omitempty"`

	// Raw is the provider payload exactly as delivered, kept so a manual
	// review entry can carry the original bytes for operator replay.
	Raw []byte `json:"-"`
}

// Meta returns the metadata value for key, or "" when unset.
func (m *CanonicalMessage) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// SetMeta records a metadata value, allocating the map on first use.
func (m *CanonicalMessage) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}
