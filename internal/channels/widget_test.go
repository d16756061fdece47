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
	"testing"

	"github.com/crewdesk/ingestion/internal/models"
)

func TestParseWidget_PseudoAddress(t *testing.T) {
	raw := []byte(`{"session_id": "sess-42", "message": "hello"}`)

	first := Parse(raw, "widget", models.ChannelWidget)
	second := Parse(raw, "widget", models.ChannelWidget)

	if first.From.Email == "" {
		t.Fatal("expected a synthesized pseudo-address")
	}
	if first.From.Email != second.From.Email {
		t.Errorf("pseudo-address not deterministic: %q vs %q", first.From.Email, second.From.Email)
	}
	if !strings.HasSuffix(first.From.Email, "@widget.invalid") {
		t.Errorf("pseudo-address = %q", first.From.Email)
	}

	other := Parse([]byte(`{"session_id": "sess-43", "message": "hello"}`), "widget", models.ChannelWidget)
	if other.From.Email == first.From.Email {
		t.Error("different sessions must get different pseudo-addresses")
	}
}

func TestParseWidget_RealAddressWins(t *testing.T) {
	raw := []byte(`{"session_id": "sess-42", "email": "real@user.com", "name": "Real User", "message": "hi"}`)
	msg := Parse(raw, "widget", models.ChannelWidget)

	if msg.From.Email != "real@user.com" {
		t.Errorf("from = %q", msg.From.Email)
	}
	if msg.SessionID != "sess-42" {
		t.Errorf("session id = %q", msg.SessionID)
	}
}
