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

package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crewdesk/ingestion/internal/channels"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// OutlookProvider polls Outlook inboxes via Graph delta queries. The
// watermark is the provider's delta link; the first cycle bounds the
// query by receivedDateTime so history from before the connection is
// never backfilled.
type OutlookProvider struct {
	client  *http.Client
	baseURL string
}

// NewOutlookProvider creates the Outlook provider. A nil client uses
// http.DefaultClient; baseURL "" uses the public Graph endpoint.
func NewOutlookProvider(client *http.Client, baseURL string) *OutlookProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &OutlookProvider{client: client, baseURL: baseURL}
}

func (p *OutlookProvider) Name() string { return "outlook" }

// deltaPage is one page of an inbox delta response.
type deltaPage struct {
	Value []struct {
		ID      string `json:"id"`
		Removed *struct {
			Reason string `json:"reason"`
		} `json:"@removed"`
	} `json:"value"`
	NextLink  string `json:"@odata.nextLink"`
	DeltaLink string `json:"@odata.deltaLink"`
}

// ListNewMessages walks the inbox delta since the stored delta link,
// collecting new message ids. The returned cursor is the deltaLink when
// the walk completed, or the nextLink when maxPages cut it short so the
// next cycle resumes mid-walk. An expired delta token (410 Gone)
// restarts from the time watermark within the same call.
func (p *OutlookProvider) ListNewMessages(ctx context.Context, integ *store.Integration, accessToken string, since time.Time, maxPages int) (*ListResult, error) {
	next := integ.SyncCursor
	if next == "" {
		next = p.initialDeltaURL(since)
	}

	result := &ListResult{}
	restarted := false
	for page := 0; page < maxPages && next != ""; page++ {
		body, status, err := p.get(ctx, accessToken, next)
		if err != nil {
			return nil, fmt.Errorf("delta page %d: %w", page, err)
		}
		if status == http.StatusGone {
			if restarted {
				return nil, fmt.Errorf("delta token expired twice in one cycle")
			}
			slog.Warn("delta token expired, restarting from time watermark",
				"integration", integ.ID)
			next = p.initialDeltaURL(since)
			restarted = true
			continue
		}

		var dp deltaPage
		if err := json.Unmarshal(body, &dp); err != nil {
			return nil, fmt.Errorf("decode delta page: %w", err)
		}
		for _, m := range dp.Value {
			if m.Removed != nil {
				continue
			}
			result.MessageIDs = append(result.MessageIDs, m.ID)
		}

		if dp.DeltaLink != "" {
			result.Cursor = dp.DeltaLink
			return result, nil
		}
		next = dp.NextLink
	}

	// Page budget spent mid-walk: resume from the continuation link.
	result.Cursor = next
	return result, nil
}

func (p *OutlookProvider) initialDeltaURL(since time.Time) string {
	params := url.Values{}
	params.Set("$select", "id")
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
	return fmt.Sprintf("%s/me/mailFolders/inbox/messages/delta?%s", p.baseURL, params.Encode())
}

// graphMessage mirrors the fields selected from a Graph message.
type graphMessage struct {
	ID             string           `json:"id"`
	Subject        string           `json:"subject"`
	From           graphRecipient   `json:"from"`
	ToRecipients   []graphRecipient `json:"toRecipients"`
	CcRecipients   []graphRecipient `json:"ccRecipients"`
	Body           graphBody        `json:"body"`
	HasAttachments bool             `json:"hasAttachments"`

	InternetMessageID      string `json:"internetMessageId"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// FetchMessage retrieves the full message and maps it onto the canonical
// shape. HTML bodies are converted to text; attachment metadata carries
// the Graph attachment id in MediaID for hydration.
func (p *OutlookProvider) FetchMessage(ctx context.Context, integ *store.Integration, accessToken, messageID string) (*models.CanonicalMessage, error) {
	u := fmt.Sprintf("%s/me/messages/%s?$select=id,subject,from,toRecipients,ccRecipients,body,internetMessageId,internetMessageHeaders,hasAttachments",
		p.baseURL, url.PathEscape(messageID))

	body, status, err := p.get(ctx, accessToken, u)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	if status == http.StatusNotFound {
		slog.Warn("message vanished before fetch", "integration", integ.ID, "message", messageID)
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("graph returned HTTP %d for message %s", status, messageID)
	}

	var gm graphMessage
	if err := json.Unmarshal(body, &gm); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	headers := make(map[string]string, len(gm.InternetMessageHeaders))
	for _, h := range gm.InternetMessageHeaders {
		key := strings.ToLower(h.Name)
		if _, exists := headers[key]; !exists {
			headers[key] = h.Value
		}
	}

	msg := &models.CanonicalMessage{
		Channel: models.ChannelEmail,
		From: models.Identity{
			Email: strings.ToLower(gm.From.EmailAddress.Address),
			Name:  gm.From.EmailAddress.Name,
		},
		Subject:    gm.Subject,
		ExternalID: strings.Trim(gm.InternetMessageID, "<> "),
		InReplyTo:  strings.Trim(headers["in-reply-to"], "<> "),
	}
	for i, r := range gm.ToRecipients {
		if i == 0 {
			msg.To = models.Identity{
				Email: strings.ToLower(r.EmailAddress.Address),
				Name:  r.EmailAddress.Name,
			}
			continue
		}
		// Extra To recipients join CC so tenant matching scans them all.
		msg.CC = append(msg.CC, strings.ToLower(r.EmailAddress.Address))
	}
	for _, r := range gm.CcRecipients {
		msg.CC = append(msg.CC, strings.ToLower(r.EmailAddress.Address))
	}
	for _, ref := range strings.Fields(headers["references"]) {
		msg.References = append(msg.References, strings.Trim(ref, "<>"))
	}

	if strings.EqualFold(gm.Body.ContentType, "html") {
		msg.RawBody = gm.Body.Content
		msg.Content = channels.HTMLToText(gm.Body.Content)
	} else {
		msg.Content = gm.Body.Content
	}

	if gm.HasAttachments {
		if err := p.listAttachments(ctx, accessToken, messageID, msg); err != nil {
			slog.Warn("attachment listing failed", "message", messageID, "error", err)
		}
	}
	return msg, nil
}

type graphAttachmentList struct {
	Value []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		Size         int64  `json:"size"`
		ContentBytes string `json:"contentBytes"`
	} `json:"value"`
}

func (p *OutlookProvider) listAttachments(ctx context.Context, accessToken, messageID string, msg *models.CanonicalMessage) error {
	u := fmt.Sprintf("%s/me/messages/%s/attachments?$select=id,name,contentType,size",
		p.baseURL, url.PathEscape(messageID))
	body, status, err := p.get(ctx, accessToken, u)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("graph returned HTTP %d listing attachments", status)
	}
	var list graphAttachmentList
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("decode attachments: %w", err)
	}
	for _, a := range list.Value {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			MediaID:     a.ID,
		})
	}
	return nil
}

// FetchAttachment downloads one attachment's bytes.
func (p *OutlookProvider) FetchAttachment(ctx context.Context, _ *store.Integration, accessToken, messageID, attachmentID string) ([]byte, error) {
	u := fmt.Sprintf("%s/me/messages/%s/attachments/%s",
		p.baseURL, url.PathEscape(messageID), url.PathEscape(attachmentID))
	body, status, err := p.get(ctx, accessToken, u)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("graph returned HTTP %d for attachment %s", status, attachmentID)
	}
	var att struct {
		ContentBytes string `json:"contentBytes"`
	}
	if err := json.Unmarshal(body, &att); err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return base64.StdEncoding.DecodeString(att.ContentBytes)
}

// get issues an authenticated Graph request and returns the body and
// status. 410 and 404 are returned to the caller rather than treated as
// errors; other non-2xx statuses are.
func (p *OutlookProvider) get(ctx context.Context, accessToken, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Prefer", `odata.maxpagesize=100`)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusGone, http.StatusNotFound:
		return body, resp.StatusCode, nil
	default:
		slog.Error("graph request failed", "status", resp.StatusCode, "body", truncateBody(body))
		return nil, resp.StatusCode, fmt.Errorf("graph returned HTTP %d", resp.StatusCode)
	}
}

func truncateBody(b []byte) string {
	if len(b) > 300 {
		b = b[:300]
	}
	return string(b)
}
