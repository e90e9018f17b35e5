package daemon

import (
	"context"
	"strconv"

	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

// storeBundleResolver adapts store.RecordStore to jobruntime.BundleResolver:
// "latest" resolves via GetLatestBundleVersion, anything else must parse
// as the bundle's integer version.
type storeBundleResolver struct {
	store store.RecordStore
}

func (r *storeBundleResolver) Resolve(ctx context.Context, slug string, version string) (*model.JobBundleVersion, error) {
	if version == "" || version == "latest" {
		return r.store.GetLatestBundleVersion(ctx, slug)
	}
	n, err := strconv.Atoi(version)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return r.store.GetBundleVersion(ctx, slug, n)
}
