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

// Package storage holds attachment bytes somewhere durable. Provider
// attachment URLs expire with the access token, so bytes are copied out
// before a message is persisted.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStore persists opaque blobs and returns a stable location string
// to store on the message.
type BlobStore interface {
	Put(ctx context.Context, orgID, filename string, data []byte) (location string, err error)
}

// LocalStore writes blobs under a base directory, one subdirectory per
// tenant. Serves development and tests; production wires an object-store
// implementation behind the same interface.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a filesystem-backed blob store rooted at baseDir.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Put stores data and returns its path. The stored name is prefixed with
// a uuid so colliding filenames never overwrite each other.
func (s *LocalStore) Put(_ context.Context, orgID, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.baseDir, orgID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tenant dir: %w", err)
	}
	name := uuid.NewString() + "-" + sanitize(filename)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return path, nil
}

// sanitize strips path separators and parent references from a
// provider-supplied filename.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "attachment"
	}
	return name
}
