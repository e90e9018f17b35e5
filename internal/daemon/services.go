package daemon

import (
	"context"
	"fmt"

	"github.com/flowforge/catalog/pkg/catalog/executor"
)

// staticServiceDirectory resolves a service step's base URL from a
// fixed config-driven map. Registering/health-checking services at
// runtime is out of scope; every configured entry is reported healthy.
type staticServiceDirectory struct {
	services map[string]string
}

func newStaticServiceDirectory(services map[string]string) *staticServiceDirectory {
	return &staticServiceDirectory{services: services}
}

func (d *staticServiceDirectory) Lookup(ctx context.Context, slug string) (*executor.ServiceDescriptor, error) {
	baseURL, ok := d.services[slug]
	if !ok {
		return nil, fmt.Errorf("service %q not configured", slug)
	}
	return &executor.ServiceDescriptor{Slug: slug, BaseURL: baseURL, Status: executor.ServiceHealthy}, nil
}
