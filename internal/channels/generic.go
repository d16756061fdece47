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

import "github.com/crewdesk/ingestion/internal/models"

// parseGeneric best-efforts every canonical field from a ranked list of
// plausible keys. Unknown provider shapes land here instead of failing.
func parseGeneric(p payload) *models.CanonicalMessage {
	msg := &models.CanonicalMessage{Channel: models.ChannelEmail}

	from := p.str("from", "From", "sender", "source")
	msg.From.Email, msg.From.Name = SplitAddress(from)
	if msg.From.Email == "" {
		msg.From.Phone = p.str("from_phone", "msisdn")
	}
	if msg.From.Name == "" {
		msg.From.Name = p.str("name", "sender_name")
	}

	to := p.str("to", "To", "recipient", "destination")
	if addrs := SplitAddressList(to); len(addrs) > 0 {
		msg.To.Email = addrs[0]
		msg.CC = append(msg.CC, addrs[1:]...)
	} else {
		msg.To.Phone = to
	}

	msg.Subject = p.str("subject", "Subject", "title")
	msg.Content = p.str("text", "body", "message", "content")
	if msg.Content == "" {
		if htmlBody := p.str("html"); htmlBody != "" {
			msg.Content = HTMLToText(htmlBody)
			msg.RawBody = htmlBody
		}
	}
	msg.ExternalID = stripAngles(p.str("message_id", "messageId", "id", "sid"))
	msg.SessionID = p.str("session_id", "sessionId", "thread_id", "conversation_id")
	msg.Attachments = parseAttachments(p)
	return msg
}
