package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/secrets"
)

// newSecretResolver builds the default secret backend chain: environment
// variables, then, only when CATALOGD_SECRETS_MASTER_KEY is set, an
// on-disk encrypted file store at CATALOGD_SECRETS_FILE (default
// "secrets.json", relative to the working directory).
func newSecretResolver() (*secrets.Resolver, error) {
	backends := []secrets.SecretBackend{secrets.NewEnvBackend()}

	if masterKey := os.Getenv("CATALOGD_SECRETS_MASTER_KEY"); masterKey != "" {
		path := os.Getenv("CATALOGD_SECRETS_FILE")
		if path == "" {
			path = "secrets.json"
		}
		fb, err := secrets.NewFileBackend(path, masterKey)
		if err != nil {
			return nil, fmt.Errorf("open secrets file backend: %w", err)
		}
		backends = append(backends, fb)
	}

	return secrets.NewResolver(backends...), nil
}

// resolveSecretRef adapts Resolver.Get to the (ctx, model.SecretRef)
// shape every collaborator (executor, job runtime, sandbox) resolves
// header/parameter secrets through.
func resolveSecretRef(r *secrets.Resolver) func(ctx context.Context, ref model.SecretRef) (string, error) {
	return func(ctx context.Context, ref model.SecretRef) (string, error) {
		switch ref.Source {
		case model.SecretSourceEnv:
			v, ok := os.LookupEnv(ref.Key)
			if !ok {
				return "", fmt.Errorf("environment secret %q not set", ref.Key)
			}
			return v, nil
		case model.SecretSourceStore, "":
			return r.Get(ctx, ref.Key)
		default:
			return "", fmt.Errorf("unknown secret source %q", ref.Source)
		}
	}
}
