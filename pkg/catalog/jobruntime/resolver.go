package jobruntime

import (
	"context"
	"strconv"

	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

// StoreBundleResolver resolves bundle bindings against the record
// store: a numeric version string pins to that exact version, "latest"
// (or an empty string) resolves to the most recently published version
// at the moment of dispatch — per the Open Question decision that
// "latest" resolves at dispatch time, not at workflow-run creation.
type StoreBundleResolver struct {
	Store store.RecordStore
}

var _ BundleResolver = (*StoreBundleResolver)(nil)

func (r *StoreBundleResolver) Resolve(ctx context.Context, slug string, version string) (*model.JobBundleVersion, error) {
	if version == "" || version == "latest" {
		return r.Store.GetLatestBundleVersion(ctx, slug)
	}
	n, err := strconv.Atoi(version)
	if err != nil {
		return nil, err
	}
	return r.Store.GetBundleVersion(ctx, slug, n)
}
