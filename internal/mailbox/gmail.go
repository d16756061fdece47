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
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/crewdesk/ingestion/internal/channels"
	"github.com/crewdesk/ingestion/internal/models"
	"github.com/crewdesk/ingestion/internal/store"
)

const gmailPageSize = 100

// GmailProvider polls Gmail inboxes. The watermark is time-based: each
// cycle queries `after:<unix>` and self-sent mail is excluded in the
// query itself.
type GmailProvider struct {
	// opts lets tests point the service at an httptest server.
	opts []option.ClientOption
}

// NewGmailProvider creates the Gmail provider.
func NewGmailProvider(opts ...option.ClientOption) *GmailProvider {
	return &GmailProvider{opts: opts}
}

func (p *GmailProvider) Name() string { return "gmail" }

func (p *GmailProvider) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}, p.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return svc, nil
}

// ListNewMessages enumerates inbox message ids received after the
// watermark, following page tokens up to maxPages.
func (p *GmailProvider) ListNewMessages(ctx context.Context, integ *store.Integration, accessToken string, since time.Time, maxPages int) (*ListResult, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("in:inbox after:%d", since.Unix())
	if integ.EmailAddress != "" {
		query += " -from:" + integ.EmailAddress
	}

	result := &ListResult{}
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		call := svc.Users.Messages.List("me").Q(query).MaxResults(gmailPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("gmail list page %d: %w", page, err)
		}
		for _, m := range resp.Messages {
			result.MessageIDs = append(result.MessageIDs, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return result, nil
}

// FetchMessage retrieves a full message and maps it onto the canonical
// shape. Attachment parts carry their gmail attachment id in MediaID for
// later hydration.
func (p *GmailProvider) FetchMessage(ctx context.Context, _ *store.Integration, accessToken, messageID string) (*models.CanonicalMessage, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	m, err := svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		if isGoogleNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gmail get %s: %w", messageID, err)
	}

	headers := gmailHeaders(m.Payload)
	from, fromName := channels.SplitAddress(headers["from"])
	to, _ := channels.SplitAddress(headers["to"])

	msg := &models.CanonicalMessage{
		Channel:    models.ChannelEmail,
		From:       models.Identity{Email: from, Name: fromName},
		To:         models.Identity{Email: to},
		CC:         channels.SplitAddressList(headers["cc"]),
		Subject:    headers["subject"],
		ExternalID: strings.Trim(headers["message-id"], "<> "),
		InReplyTo:  strings.Trim(headers["in-reply-to"], "<> "),
	}
	for _, ref := range strings.Fields(headers["references"]) {
		msg.References = append(msg.References, strings.Trim(ref, "<>"))
	}

	var plain, html string
	walkGmailParts(m.Payload, func(part *gmail.MessagePart) {
		switch {
		case part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "":
			msg.Attachments = append(msg.Attachments, models.Attachment{
				Filename:    part.Filename,
				ContentType: part.MimeType,
				Size:        part.Body.Size,
				MediaID:     part.Body.AttachmentId,
			})
		case part.MimeType == "text/plain" && plain == "":
			plain = decodeGmailBody(part)
		case part.MimeType == "text/html" && html == "":
			html = decodeGmailBody(part)
		}
	})

	msg.Content = plain
	msg.RawBody = html
	if msg.Content == "" && html != "" {
		msg.Content = channels.HTMLToText(html)
	}
	return msg, nil
}

// FetchAttachment downloads attachment bytes via the gmail API.
func (p *GmailProvider) FetchAttachment(ctx context.Context, _ *store.Integration, accessToken, messageID, attachmentID string) ([]byte, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	att, err := svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail attachment %s: %w", attachmentID, err)
	}
	return decodeBase64URL(att.Data)
}

func gmailHeaders(part *gmail.MessagePart) map[string]string {
	out := make(map[string]string)
	if part == nil {
		return out
	}
	for _, h := range part.Headers {
		key := strings.ToLower(h.Name)
		if _, exists := out[key]; !exists {
			out[key] = h.Value
		}
	}
	return out
}

func walkGmailParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, child := range part.Parts {
		walkGmailParts(child, fn)
	}
}

func decodeGmailBody(part *gmail.MessagePart) string {
	if part.Body == nil || part.Body.Data == "" {
		return ""
	}
	data, err := decodeBase64URL(part.Body.Data)
	if err != nil {
		return ""
	}
	return string(data)
}

// decodeBase64URL accepts gmail's web-safe base64 with or without
// padding.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func isGoogleNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
