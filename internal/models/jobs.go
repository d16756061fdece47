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

package models

// MailboxJob is the work-queue payload for a message discovered by a
// mailbox poller. The worker fetches the full message from the provider
// before it enters the ingestion path.
type MailboxJob struct {
	IntegrationID string `json:"integrationId"`
	MessageID     string `json:"messageId"`
	Provider      string `json:"provider"`
}

// IsMailboxJob reports whether a decoded job payload carries the mailbox
// job shape. Webhook-sourced jobs carry the raw provider payload instead.
func (j *MailboxJob) IsMailboxJob() bool {
	return j.IntegrationID != "" && j.MessageID != ""
}
