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

package channels

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/crewdesk/ingestion/internal/models"
)

// parseWidget normalizes an embedded chat widget message. The browser
// session identifier is the strict thread-matching key; when the visitor
// supplied no address, a deterministic pseudo-address derived from the
// session avoids unique-constraint collisions downstream.
func parseWidget(p payload) *models.CanonicalMessage {
	msg := &models.CanonicalMessage{Channel: models.ChannelWidget}

	msg.SessionID = p.str("session_id", "sessionId", "session")
	msg.From.Email = p.str("email", "visitor_email", "from")
	msg.From.Name = p.str("name", "visitor_name")
	msg.Content = p.str("message", "text", "body", "content")
	msg.ExternalID = p.str("message_id", "messageId", "id")

	if msg.From.Email == "" && msg.SessionID != "" {
		msg.From.Email = PseudoAddress(msg.SessionID)
	}

	if page := p.str("page_url", "url"); page != "" {
		msg.SetMeta("page_url", page)
	}

	msg.Attachments = parseAttachments(p)
	return msg
}

// PseudoAddress derives a stable synthetic email address from a widget
// session identifier.
func PseudoAddress(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return fmt.Sprintf("visitor-%s@widget.invalid", hex.EncodeToString(sum[:6]))
}
