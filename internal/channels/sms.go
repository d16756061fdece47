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

// parseSMS normalizes an SMS provider webhook. Twilio-style capitalized
// keys and lowercase variants are both probed.
func parseSMS(p payload) *models.CanonicalMessage {
	msg := &models.CanonicalMessage{Channel: models.ChannelSMS}

	msg.From.Phone = p.str("from", "From", "msisdn", "sender", "source")
	msg.From.Name = p.str("from_name", "sender_name", "profile_name")
	msg.To.Phone = p.str("to", "To", "recipient", "destination", "short_code")
	msg.Content = p.str("body", "Body", "text", "message", "content")
	msg.ExternalID = p.str("message_sid", "MessageSid", "message_id", "messageId", "sid", "id")
	msg.SessionID = p.str("session_id", "conversation_id")

	if nid := p.str("number_id", "phone_number_id"); nid != "" {
		msg.SetMeta("phone_number_id", nid)
	}

	msg.Attachments = parseAttachments(p)
	return msg
}
