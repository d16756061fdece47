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

package ingest

import (
	"errors"
	"fmt"
)

// UnresolvableError means the message can never succeed as-is: no tenant
// matched or a structurally required field is missing. Routed to manual
// review, never retried.
type UnresolvableError struct {
	Reason string
}

func (e *UnresolvableError) Error() string {
	return "unresolvable: " + e.Reason
}

// TransientError wraps a network, provider, or store failure worth
// retrying. Under the work queue it triggers a re-attempt; from a
// synchronous webhook it becomes a failed response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthTerminalError signals a revoked or expired refresh grant. The
// owning integration moves to needs_reauth and is excluded from polling;
// no retry.
type AuthTerminalError struct {
	IntegrationID string
	Err           error
}

func (e *AuthTerminalError) Error() string {
	return fmt.Sprintf("authorization terminal for integration %s: %v", e.IntegrationID, e.Err)
}

func (e *AuthTerminalError) Unwrap() error { return e.Err }

// Retryable reports whether an error should go back through the queue.
func Retryable(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
