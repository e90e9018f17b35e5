// Copyright 2025 Tom Barlow
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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	// EnvBackendPriority is the priority for the environment variable
	// backend. This is the highest priority so an operator can always
	// override a stored secret by setting the environment variable.
	EnvBackendPriority = 100

	// envSecretPrefix prefixes every secret key this backend exposes,
	// so a catalog secret key never collides with an unrelated
	// environment variable.
	envSecretPrefix = "CATALOG_SECRET_"
)

// EnvBackend provides read-only access to secrets stored as
// CATALOG_SECRET_<KEY> environment variables, where <KEY> is the
// secret's store key with "/" replaced by "_" and upper-cased.
type EnvBackend struct{}

// NewEnvBackend creates a new environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a secret from its CATALOG_SECRET_<KEY> environment
// variable.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	envKey := e.normalizeKey(key)
	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: environment variable not set", ErrSecretNotFound)
}

// Set returns ErrReadOnlyBackend as the environment backend is read-only.
func (e *EnvBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend as the environment backend is read-only.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// List returns all CATALOG_SECRET_* environment variables, denormalized
// back to their store keys.
func (e *EnvBackend) List(ctx context.Context) ([]string, error) {
	var keys []string
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, envSecretPrefix) {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 && parts[1] != "" {
				keys = append(keys, e.denormalizeKey(parts[0]))
			}
		}
	}
	return keys, nil
}

// Available returns true as environment variables are always available.
func (e *EnvBackend) Available() bool {
	return true
}

// Priority returns the backend priority (highest).
func (e *EnvBackend) Priority() int {
	return EnvBackendPriority
}

// ReadOnly returns true as the environment backend is read-only.
func (e *EnvBackend) ReadOnly() bool {
	return true
}

// normalizeKey converts a secret key to an environment variable name.
// Example: "webhooks/github/signing-key" -> "CATALOG_SECRET_WEBHOOKS_GITHUB_SIGNING_KEY"
func (e *EnvBackend) normalizeKey(key string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(key, "/", "_"))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return envSecretPrefix + normalized
}

// denormalizeKey converts an environment variable name back to a secret
// key. This is a lossy conversion since the backend can't distinguish
// between underscores that were originally slashes/hyphens and
// underscores that were part of the key itself; List is a best-effort
// enumeration aid, not an exact inverse of normalizeKey.
func (e *EnvBackend) denormalizeKey(envVar string) string {
	key := strings.ToLower(strings.TrimPrefix(envVar, envSecretPrefix))

	parts := strings.Split(key, "_")
	if len(parts) >= 3 {
		return parts[0] + "/" + parts[1] + "/" + strings.Join(parts[2:], "_")
	}
	return strings.ReplaceAll(key, "_", "/")
}
