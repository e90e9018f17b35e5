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

/*
Package secrets resolves the secret references a job bundle's
parameters or a service step's headers carry (model.SecretRef with
source "env" or "store"), backed by a priority-ordered chain of
SecretBackend implementations.

# Backends

	env  - Environment variables (CATALOG_SECRET_*), always available,
	       read-only, highest priority so an operator can override a
	       stored secret without touching the encrypted file.
	file - AES-256-GCM encrypted JSON file, keyed by a master key from
	       CATALOGD_SECRETS_MASTER_KEY or ~/.config/catalog/master.key.

# Usage

	resolver := secrets.NewResolver(
	    secrets.NewEnvBackend(),
	    fileBackend, // *secrets.FileBackend, only when a master key is configured
	)
	value, err := resolver.Get(ctx, "webhooks/github/signing-key")

# Environment Variables

The env backend looks for variables prefixed with CATALOG_SECRET_:

	export CATALOG_SECRET_WEBHOOKS_GITHUB_SIGNING_KEY=whsec_...

# Error Handling

	ErrSecretNotFound:     the key doesn't exist in any backend
	ErrBackendUnavailable: no backends are available (e.g. no master key)
*/
package secrets
