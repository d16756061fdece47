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

// Package channels normalizes raw provider payloads into the canonical
// message shape. Parsers are best-effort: a malformed or unexpected payload
// degrades to generic field extraction, it never fails the ingestion.
package channels

import (
	"encoding/json"
	"strings"

	"github.com/crewdesk/ingestion/internal/models"
)

// Parse maps a raw provider payload to a canonical message. It never
// returns nil: payloads that are not JSON objects are treated as opaque
// content. The provider name is recorded in metadata for audit.
func Parse(raw []byte, provider string, channel models.Channel) *models.CanonicalMessage {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil || p == nil {
		msg := &models.CanonicalMessage{
			Channel: channel,
			Content: strings.TrimSpace(string(raw)),
		}
		msg.SetMeta("provider", provider)
		return msg
	}

	var msg *models.CanonicalMessage
	switch channel {
	case models.ChannelEmail:
		msg = parseEmail(p)
	case models.ChannelSMS:
		msg = parseSMS(p)
	case models.ChannelWhatsApp:
		msg = parseWhatsApp(raw, p)
	case models.ChannelWidget:
		msg = parseWidget(p)
	default:
		msg = parseGeneric(p)
		msg.Channel = channel
	}

	if provider != "" {
		msg.SetMeta("provider", provider)
	}
	return msg
}

// payload is the generic string-keyed fallback variant of the provider
// payload union. Known providers decode into their typed shapes first.
type payload map[string]any

// str returns the first non-empty string value among the ranked keys.
func (p payload) str(keys ...string) string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64, int, int64, bool:
			// Providers occasionally send numeric ids
			if s := strings.TrimSpace(stringify(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// sub returns a nested object value, or nil.
func (p payload) sub(key string) payload {
	if m, ok := p[key].(map[string]any); ok {
		return payload(m)
	}
	return nil
}

// list returns a nested array value, or nil.
func (p payload) list(key string) []any {
	if l, ok := p[key].([]any); ok {
		return l
	}
	return nil
}

func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}

// stripAngles removes surrounding angle brackets from a message id.
func stripAngles(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// parseAttachments extracts attachment descriptors from a generic list of
// maps under ranked key names.
func parseAttachments(p payload) []models.Attachment {
	items := p.list("attachments")
	if items == nil {
		items = p.list("files")
	}
	var out []models.Attachment
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a := payload(m)
		att := models.Attachment{
			Filename:    a.str("filename", "name", "file_name"),
			ContentType: a.str("content_type", "contentType", "mime_type", "type"),
			Location:    a.str("url", "location", "path"),
			MediaID:     a.str("media_id", "mediaId", "attachment_id", "id"),
		}
		if size, ok := m["size"].(float64); ok {
			att.Size = int64(size)
		}
		if att.Filename == "" && att.Location == "" && att.MediaID == "" {
			continue
		}
		out = append(out, att)
	}
	return out
}
