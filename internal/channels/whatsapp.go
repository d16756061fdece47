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
	"encoding/json"

	"github.com/crewdesk/ingestion/internal/models"
)

// waEnvelope is the raw WhatsApp Business webhook shape:
// entry → changes → value → messages.
type waEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value waValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []waMessage `json:"messages"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *waMedia `json:"image"`
	Document *waMedia `json:"document"`
	Audio    *waMedia `json:"audio"`
	Video    *waMedia `json:"video"`
	Sticker  *waMedia `json:"sticker"`
	Context  *struct {
		ID string `json:"id"` // id of the message being replied to
	} `json:"context"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
}

// FanOutWhatsApp splits a raw webhook envelope into one flattened payload
// per contained message, so each can be queued and retried independently.
// A payload that is not an envelope is returned as-is.
func FanOutWhatsApp(raw []byte) [][]byte {
	var env waEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Entry) == 0 {
		return [][]byte{raw}
	}

	var out [][]byte
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			name := ""
			if len(v.Contacts) > 0 {
				name = v.Contacts[0].Profile.Name
			}
			for _, m := range v.Messages {
				flat := flattenWhatsApp(v, m, name)
				if b, err := json.Marshal(flat); err == nil {
					out = append(out, b)
				}
			}
		}
	}
	if len(out) == 0 {
		return [][]byte{raw}
	}
	return out
}

// flattenWhatsApp produces the internal flattened shape also accepted by
// the parser directly.
func flattenWhatsApp(v waValue, m waMessage, name string) map[string]any {
	flat := map[string]any{
		"from":            m.From,
		"to":              v.Metadata.DisplayPhoneNumber,
		"phone_number_id": v.Metadata.PhoneNumberID,
		"message_id":      m.ID,
		"type":            m.Type,
		"profile_name":    name,
		"timestamp":       m.Timestamp,
	}
	if m.Text.Body != "" {
		flat["text"] = m.Text.Body
	}
	if m.Context != nil && m.Context.ID != "" {
		flat["context_id"] = m.Context.ID
	}
	if media, kind := m.media(); media != nil {
		att := map[string]any{
			"media_id":     media.ID,
			"content_type": media.MimeType,
			"filename":     media.Filename,
		}
		flat["attachments"] = []any{att}
		flat["media_kind"] = kind
		if media.Caption != "" {
			flat["caption"] = media.Caption
		}
	}
	return flat
}

func (m waMessage) media() (*waMedia, string) {
	switch {
	case m.Image != nil:
		return m.Image, "image"
	case m.Document != nil:
		return m.Document, "document"
	case m.Audio != nil:
		return m.Audio, "audio"
	case m.Video != nil:
		return m.Video, "video"
	case m.Sticker != nil:
		return m.Sticker, "sticker"
	}
	return nil, ""
}

// parseWhatsApp accepts both the raw webhook envelope and the flattened
// internal shape. When no text is present it derives a content placeholder
// from the media type so the stored message is never empty of meaning.
func parseWhatsApp(raw []byte, p payload) *models.CanonicalMessage {
	// Raw envelope: flatten the first message and re-parse. The webhook
	// layer fans multi-message envelopes out before they get here.
	if p.list("entry") != nil {
		flats := FanOutWhatsApp(raw)
		var flat payload
		if err := json.Unmarshal(flats[0], &flat); err == nil && flat.str("from") != "" {
			p = flat
		}
	}

	msg := &models.CanonicalMessage{Channel: models.ChannelWhatsApp}
	msg.From.Phone = p.str("from", "wa_id")
	msg.From.Name = p.str("profile_name", "name")
	msg.To.Phone = p.str("to", "display_phone_number")
	msg.ExternalID = p.str("message_id", "id")
	msg.InReplyTo = p.str("context_id")
	msg.SessionID = p.str("session_id")

	if nid := p.str("phone_number_id"); nid != "" {
		msg.SetMeta("phone_number_id", nid)
	}

	msg.Attachments = parseAttachments(p)

	content := p.str("text", "body", "caption")
	if content == "" {
		if kind := p.str("media_kind", "type"); kind != "" && kind != "text" {
			content = "[" + kind + "]"
		} else if len(msg.Attachments) > 0 {
			content = "[Attachment]"
		}
	}
	msg.Content = content
	return msg
}
