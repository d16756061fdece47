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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/crewdesk/ingestion/internal/config"
	"github.com/crewdesk/ingestion/internal/store"
)

const (
	googleProfileURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	graphProfileURL  = DefaultGraphBaseURL + "/me"
)

// BuildOAuthConfigs maps provider names to oauth2 client configurations.
// Gmail needs offline access and a consent prompt to guarantee a refresh
// token on reconnect.
func BuildOAuthConfigs(g, ms config.OAuthProviderConfig) map[string]*oauth2.Config {
	return map[string]*oauth2.Config{
		"gmail": {
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			RedirectURL:  g.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
		"outlook": {
			ClientID:     ms.ClientID,
			ClientSecret: ms.ClientSecret,
			RedirectURL:  ms.RedirectURL,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes: []string{
				"offline_access",
				"https://graph.microsoft.com/Mail.Read",
				"https://graph.microsoft.com/User.Read",
			},
		},
	}
}

// ConnectStore persists OAuth connection state. Implemented by
// store.Store.
type ConnectStore interface {
	UpsertIntegration(ctx context.Context, i *store.Integration) error
	GetIntegration(ctx context.Context, id string) (*store.Integration, error)
	RewindIntegrationWatermark(ctx context.Context, id string, lookback time.Duration) error
}

// OAuthManager runs the connect flow: authorize-URL generation, code
// exchange, mailbox identity lookup, and integration upsert.
type OAuthManager struct {
	store   ConnectStore
	configs map[string]*oauth2.Config

	// profile endpoints, overridable in tests
	googleProfile string
	graphProfile  string
}

// NewOAuthManager creates an OAuth manager over the given provider
// configs (see BuildOAuthConfigs).
func NewOAuthManager(st ConnectStore, configs map[string]*oauth2.Config) *OAuthManager {
	return &OAuthManager{
		store:         st,
		configs:       configs,
		googleProfile: googleProfileURL,
		graphProfile:  graphProfileURL,
	}
}

// AuthorizeURL returns the provider consent URL for a tenant connect
// flow. state round-trips through the provider and is verified by the
// callback handler.
func (m *OAuthManager) AuthorizeURL(provider, state string) (string, error) {
	cfg := m.configs[provider]
	if cfg == nil {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if provider == "gmail" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// Complete exchanges an authorization code, resolves the authenticated
// mailbox address, and upserts the integration for the tenant.
func (m *OAuthManager) Complete(ctx context.Context, orgID, provider, code string) (*store.Integration, error) {
	cfg := m.configs[provider]
	if cfg == nil {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	email, err := m.profileEmail(ctx, cfg, provider, token)
	if err != nil {
		return nil, fmt.Errorf("resolve mailbox address: %w", err)
	}

	expiry := token.Expiry
	integ := &store.Integration{
		OrgID:        orgID,
		Provider:     provider,
		EmailAddress: email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  &expiry,
	}
	if err := m.store.UpsertIntegration(ctx, integ); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}
	return integ, nil
}

// Resync rewinds an integration's watermark by the given lookback so the
// next poll cycle re-enumerates that span.
func (m *OAuthManager) Resync(ctx context.Context, integrationID string, lookbackDays int) error {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	integ, err := m.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}
	if integ == nil {
		return fmt.Errorf("integration %s not found", integrationID)
	}
	return m.store.RewindIntegrationWatermark(ctx, integrationID, time.Duration(lookbackDays)*24*time.Hour)
}

// profileEmail asks the provider who the token belongs to.
func (m *OAuthManager) profileEmail(ctx context.Context, cfg *oauth2.Config, provider string, token *oauth2.Token) (string, error) {
	var u string
	switch provider {
	case "gmail":
		u = m.googleProfile
	case "outlook":
		u = m.graphProfile
	default:
		return "", fmt.Errorf("no profile endpoint for provider %q", provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile endpoint returned HTTP %d", resp.StatusCode)
	}

	var profile struct {
		Email             string `json:"email"`             // google userinfo
		Mail              string `json:"mail"`              // graph /me
		UserPrincipalName string `json:"userPrincipalName"` // graph fallback
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("decode profile: %w", err)
	}
	for _, candidate := range []string{profile.Email, profile.Mail, profile.UserPrincipalName} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("provider profile carries no address")
}
