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
	"strings"

	"github.com/crewdesk/ingestion/internal/models"
)

// parseEmail normalizes a provider-agnostic email webhook payload. Field
// names vary per provider, so each field is probed from a ranked key list
// with the normalized header map as a fallback.
func parseEmail(p payload) *models.CanonicalMessage {
	msg := &models.CanonicalMessage{Channel: models.ChannelEmail}

	headers := normalizeHeaders(p["headers"])
	if len(headers) == 0 {
		headers = normalizeHeaders(p["message-headers"])
	}

	from := p.str("from", "From", "sender", "envelope_from")
	if from == "" {
		from = headers["from"]
	}
	msg.From.Email, msg.From.Name = SplitAddress(from)

	to := p.str("to", "To", "recipient", "recipients")
	if to == "" {
		to = headers["to"]
	}
	if addrs := SplitAddressList(to); len(addrs) > 0 {
		msg.To.Email = addrs[0]
		msg.CC = append(msg.CC, addrs[1:]...)
	}

	cc := p.str("cc", "Cc")
	if cc == "" {
		cc = headers["cc"]
	}
	msg.CC = append(msg.CC, SplitAddressList(cc)...)

	// Some providers deliver the matched mailbox in a secondary field; the
	// resolver scans it when To/CC miss.
	if dt := p.str("delivered_to", "delivered-to", "original_recipient"); dt != "" {
		msg.SetMeta("delivered_to", dt)
	} else if dt := headers["delivered-to"]; dt != "" {
		msg.SetMeta("delivered_to", dt)
	}

	msg.Subject = p.str("subject", "Subject")
	if msg.Subject == "" {
		msg.Subject = headers["subject"]
	}

	text := p.str("text", "body-plain", "stripped-text", "plain", "body_text", "body")
	htmlBody := p.str("html", "body-html", "stripped-html", "body_html")
	if text == "" && htmlBody != "" {
		text = HTMLToText(htmlBody)
	}
	msg.Content = text
	msg.RawBody = htmlBody

	id := p.str("message_id", "messageId", "Message-Id", "id")
	if id == "" {
		id = headers["message-id"]
	}
	msg.ExternalID = stripAngles(id)

	inReplyTo := p.str("in_reply_to", "In-Reply-To")
	if inReplyTo == "" {
		inReplyTo = headers["in-reply-to"]
	}
	msg.InReplyTo = stripAngles(inReplyTo)

	refs := p.str("references", "References")
	if refs == "" {
		refs = headers["references"]
	}
	for _, ref := range strings.Fields(refs) {
		if r := stripAngles(ref); r != "" {
			msg.References = append(msg.References, r)
		}
	}

	msg.Attachments = parseAttachments(p)
	return msg
}
