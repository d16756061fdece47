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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/crewdesk/ingestion/internal/ingest"
	"github.com/crewdesk/ingestion/internal/store"
)

// DefaultRefreshBuffer is how close to expiry a token may get before a
// proactive refresh.
const DefaultRefreshBuffer = 5 * time.Minute

// TokenStore persists credential changes. Implemented by store.Store.
type TokenStore interface {
	UpdateIntegrationTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	MarkIntegrationNeedsReauth(ctx context.Context, id string) error
}

// TokenManager keeps integration access tokens usable. A refresh that
// fails with an invalidated grant flips the integration to needs_reauth;
// transient refresh failures surface as retryable errors.
type TokenManager struct {
	store   TokenStore
	configs map[string]*oauth2.Config // keyed by provider
	buffer  time.Duration
}

// NewTokenManager creates a token manager. buffer <= 0 uses the default.
func NewTokenManager(st TokenStore, configs map[string]*oauth2.Config, buffer time.Duration) *TokenManager {
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	return &TokenManager{store: st, configs: configs, buffer: buffer}
}

// Fresh returns a valid access token for the integration, refreshing
// proactively when expiry is within the buffer. A successful refresh is
// persisted and mirrored back onto the integration.
func (m *TokenManager) Fresh(ctx context.Context, integ *store.Integration) (string, error) {
	if integ.TokenExpiry != nil && time.Until(*integ.TokenExpiry) > m.buffer {
		return integ.AccessToken, nil
	}

	cfg := m.configs[integ.Provider]
	if cfg == nil {
		return "", fmt.Errorf("no oauth client configured for provider %q", integ.Provider)
	}
	if integ.RefreshToken == "" {
		if err := m.store.MarkIntegrationNeedsReauth(ctx, integ.ID); err != nil {
			slog.Error("mark needs_reauth failed", "integration", integ.ID, "error", err)
		}
		return "", &ingest.AuthTerminalError{
			IntegrationID: integ.ID,
			Err:           errors.New("no refresh token on record"),
		}
	}

	stale := &oauth2.Token{
		AccessToken:  integ.AccessToken,
		RefreshToken: integ.RefreshToken,
	}
	if integ.TokenExpiry != nil {
		stale.Expiry = *integ.TokenExpiry
	} else {
		stale.Expiry = time.Now().Add(-time.Minute)
	}

	fresh, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		if invalidGrant(err) {
			slog.Warn("refresh grant invalidated, disabling integration",
				"integration", integ.ID, "provider", integ.Provider)
			if markErr := m.store.MarkIntegrationNeedsReauth(ctx, integ.ID); markErr != nil {
				slog.Error("mark needs_reauth failed", "integration", integ.ID, "error", markErr)
			}
			return "", &ingest.AuthTerminalError{IntegrationID: integ.ID, Err: err}
		}
		return "", &ingest.TransientError{Err: fmt.Errorf("token refresh: %w", err)}
	}

	if err := m.store.UpdateIntegrationTokens(ctx, integ.ID, fresh.AccessToken, fresh.RefreshToken, fresh.Expiry); err != nil {
		// The token is usable even if persistence failed; log and go on.
		slog.Error("persist refreshed tokens failed", "integration", integ.ID, "error", err)
	}
	integ.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		integ.RefreshToken = fresh.RefreshToken
	}
	expiry := fresh.Expiry
	integ.TokenExpiry = &expiry

	slog.Info("access token refreshed", "integration", integ.ID, "provider", integ.Provider)
	return fresh.AccessToken, nil
}

// invalidGrant distinguishes a revoked/expired refresh grant from a
// transient refresh failure.
func invalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized
}
