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
	"testing"

	"github.com/crewdesk/ingestion/internal/models"
)

const waEnvelopeJSON = `{
	"entry": [{
		"changes": [{
			"value": {
				"metadata": {"display_phone_number": "15550001111", "phone_number_id": "pnid-1"},
				"contacts": [{"profile": {"name": "Carlos"}, "wa_id": "5215550002222"}],
				"messages": [
					{"from": "5215550002222", "id": "wamid.A", "timestamp": "1700000000", "type": "text",
					 "text": {"body": "hola"}},
					{"from": "5215550002222", "id": "wamid.B", "timestamp": "1700000001", "type": "image",
					 "image": {"id": "media-9", "mime_type": "image/jpeg"}}
				]
			}
		}]
	}]
}`

func TestFanOutWhatsApp(t *testing.T) {
	flats := FanOutWhatsApp([]byte(waEnvelopeJSON))
	if len(flats) != 2 {
		t.Fatalf("fan-out produced %d payloads, want 2", len(flats))
	}

	first := Parse(flats[0], "whatsapp", models.ChannelWhatsApp)
	if first.ExternalID != "wamid.A" {
		t.Errorf("first external id = %q", first.ExternalID)
	}
	if first.Content != "hola" {
		t.Errorf("first content = %q", first.Content)
	}
	if first.From.Phone != "5215550002222" || first.From.Name != "Carlos" {
		t.Errorf("first from = %+v", first.From)
	}
	if first.Meta("phone_number_id") != "pnid-1" {
		t.Errorf("phone_number_id = %q", first.Meta("phone_number_id"))
	}

	second := Parse(flats[1], "whatsapp", models.ChannelWhatsApp)
	if second.Content != "[image]" {
		t.Errorf("media placeholder = %q, want [image]", second.Content)
	}
	if len(second.Attachments) != 1 || second.Attachments[0].MediaID != "media-9" {
		t.Errorf("attachments = %+v", second.Attachments)
	}
}

func TestParseWhatsApp_RawEnvelope(t *testing.T) {
	// The parser accepts the raw envelope directly (first message wins).
	msg := Parse([]byte(waEnvelopeJSON), "whatsapp", models.ChannelWhatsApp)
	if msg.ExternalID != "wamid.A" {
		t.Errorf("external id = %q", msg.ExternalID)
	}
	if msg.To.Phone != "15550001111" {
		t.Errorf("to = %q", msg.To.Phone)
	}
}

func TestParseWhatsApp_Flattened(t *testing.T) {
	raw := []byte(`{
		"from": "5215550002222",
		"to": "15550001111",
		"phone_number_id": "pnid-1",
		"message_id": "wamid.C",
		"type": "document",
		"attachments": [{"media_id": "doc-1", "content_type": "application/pdf", "filename": "invoice.pdf"}]
	}`)

	msg := Parse(raw, "whatsapp", models.ChannelWhatsApp)
	if msg.Content != "[document]" {
		t.Errorf("content = %q, want [document]", msg.Content)
	}
	if msg.Attachments[0].Filename != "invoice.pdf" {
		t.Errorf("attachment = %+v", msg.Attachments[0])
	}
}

func TestFanOutWhatsApp_NotAnEnvelope(t *testing.T) {
	raw := []byte(`{"from": "123", "text": "already flat"}`)
	flats := FanOutWhatsApp(raw)
	if len(flats) != 1 || string(flats[0]) != string(raw) {
		t.Errorf("non-envelope payload should pass through unchanged")
	}
}
