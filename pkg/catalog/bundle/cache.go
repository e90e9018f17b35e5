// Package bundle implements the bundle cache: materializing
// content-addressed job bundles on local disk, ref-counting live
// directories, coalescing concurrent loads of the same version, and
// LRU-evicting cold entries once the cache exceeds its configured size.
package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	catalogerrors "github.com/flowforge/catalog/pkg/errors"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

// AcquiredBundle is a live, ref-counted view of a materialized bundle
// directory. Callers must invoke Release when finished with it.
type AcquiredBundle struct {
	Directory string
	EntryFile string
	Manifest  model.BundleManifest

	cache *Cache
	key   string
}

// Release decrements the entry's ref-count, allowing later eviction.
func (a *AcquiredBundle) Release() {
	a.cache.release(a.key)
}

type entry struct {
	key          string
	directory    string
	manifest     model.BundleManifest
	refCount     int
	lastAccessed time.Time
}

// Config controls the cache's eviction policy and storage root.
type Config struct {
	StorageRoot string
	MaxEntries  int
	TTL         time.Duration
	Logger      *slog.Logger
}

// Cache is the Bundle Cache collaborator. entries and pendingLoads are
// guarded by a single mutex per the concurrency model; acquire may
// suspend the calling goroutine on artifact download/extraction while
// holding no lock (the in-flight load coordinates via pendingLoads).
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	pendingLoads map[string]*pendingLoad
	root         string
	maxEntries   int
	ttl          time.Duration
	storage      map[model.ArtifactStorage]ArtifactStorage
	logger       *slog.Logger
}

type pendingLoad struct {
	done chan struct{}
	dir  string
	err  error
}

// New constructs a Cache rooted at cfg.StorageRoot, backed by the given
// per-ArtifactStorage backends (keyed by model.ArtifactStorage).
func New(cfg Config, storage map[model.ArtifactStorage]ArtifactStorage) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries:      map[string]*entry{},
		pendingLoads: map[string]*pendingLoad{},
		root:         cfg.StorageRoot,
		maxEntries:   cfg.MaxEntries,
		ttl:          cfg.TTL,
		storage:      storage,
		logger:       logger,
	}
}

// cacheKey computes the content-addressed key `slug@version#checksum`.
func cacheKey(v *model.JobBundleVersion) string {
	return fmt.Sprintf("%s@%d#%s", v.BundleSlug, v.Version, v.Checksum)
}

// Acquire returns a live view of the bundle's materialized directory,
// downloading/extracting it if not already cached. Concurrent callers
// for the same key coalesce onto a single in-flight load.
func (c *Cache) Acquire(ctx context.Context, v *model.JobBundleVersion) (*AcquiredBundle, error) {
	key := cacheKey(v)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.refCount++
		e.lastAccessed = time.Now()
		c.mu.Unlock()
		return &AcquiredBundle{Directory: e.directory, EntryFile: filepath.Join(e.directory, e.manifest.Entry), Manifest: e.manifest, cache: c, key: key}, nil
	}

	if pending, ok := c.pendingLoads[key]; ok {
		c.mu.Unlock()
		<-pending.done
		if pending.err != nil {
			return nil, pending.err
		}
		return c.Acquire(ctx, v)
	}

	pending := &pendingLoad{done: make(chan struct{})}
	c.pendingLoads[key] = pending
	c.mu.Unlock()

	dir, manifest, err := c.materialize(ctx, v, key)

	c.mu.Lock()
	delete(c.pendingLoads, key)
	if err == nil {
		c.entries[key] = &entry{key: key, directory: dir, manifest: manifest, refCount: 1, lastAccessed: time.Now()}
	}
	pending.err = err
	close(pending.done)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	c.evict()

	return &AcquiredBundle{Directory: dir, EntryFile: filepath.Join(dir, manifest.Entry), Manifest: manifest, cache: c, key: key}, nil
}

func (c *Cache) release(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.refCount--
		e.lastAccessed = time.Now()
	}
	c.mu.Unlock()
	c.evict()
}

// materialize runs the download/verify/extract pipeline for v, returning
// the final cache directory and parsed manifest.
func (c *Cache) materialize(ctx context.Context, v *model.JobBundleVersion, key string) (string, model.BundleManifest, error) {
	storage, ok := c.storage[v.ArtifactStorage]
	if !ok {
		return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{
			BundleSlug: v.BundleSlug, Version: v.Version, Reason: fmt.Sprintf("no storage backend registered for %q", v.ArtifactStorage),
		}
	}

	downloadDir := filepath.Join(c.root, "__downloads")
	stagingArchive := filepath.Join(downloadDir, key+"-"+uuid.NewString()+".tar.gz")
	if err := storage.Fetch(ctx, v, stagingArchive); err != nil {
		return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{BundleSlug: v.BundleSlug, Version: v.Version, Reason: "fetch failed", Cause: err}
	}
	defer os.Remove(stagingArchive)

	sum, err := sha256File(stagingArchive)
	if err != nil {
		return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{BundleSlug: v.BundleSlug, Version: v.Version, Reason: "checksum failed", Cause: err}
	}
	if sum != v.Checksum {
		return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{
			BundleSlug: v.BundleSlug, Version: v.Version, Reason: fmt.Sprintf("checksum mismatch: got %s want %s", sum, v.Checksum),
		}
	}

	stagingDir := filepath.Join(c.root, "__staging", key+"-"+strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := extractTarGz(stagingArchive, stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{BundleSlug: v.BundleSlug, Version: v.Version, Reason: "extract failed", Cause: err}
	}

	manifest := v.Manifest
	if _, err := resolveWithinRoot(stagingDir, manifest.Entry); err != nil {
		os.RemoveAll(stagingDir)
		return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{BundleSlug: v.BundleSlug, Version: v.Version, Reason: "entry path escapes cache root", Cause: err}
	}
	if _, err := os.Stat(filepath.Join(stagingDir, manifest.Entry)); err != nil {
		os.RemoveAll(stagingDir)
		return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{BundleSlug: v.BundleSlug, Version: v.Version, Reason: "entry file absent", Cause: err}
	}

	finalDir := filepath.Join(c.root, key)
	if err := os.Rename(stagingDir, finalDir); err != nil {
		if os.IsExist(err) {
			os.RemoveAll(stagingDir)
		} else {
			os.RemoveAll(stagingDir)
			return "", model.BundleManifest{}, &catalogerrors.BundleResolutionError{BundleSlug: v.BundleSlug, Version: v.Version, Reason: "rename into place failed", Cause: err}
		}
	}

	return finalDir, manifest, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// evict drops ref-count-0, TTL-expired entries, then LRU-evicts further
// ref-count-0 entries until at or under maxEntries.
func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.ttl > 0 {
		for key, e := range c.entries {
			if e.refCount == 0 && now.Sub(e.lastAccessed) > c.ttl {
				os.RemoveAll(e.directory)
				delete(c.entries, key)
			}
		}
	}

	if c.maxEntries <= 0 {
		return
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldestTime time.Time
		found := false
		for key, e := range c.entries {
			if e.refCount != 0 {
				continue
			}
			if !found || e.lastAccessed.Before(oldestTime) {
				oldestKey = key
				oldestTime = e.lastAccessed
				found = true
			}
		}
		if !found {
			return
		}
		os.RemoveAll(c.entries[oldestKey].directory)
		delete(c.entries, oldestKey)
	}
}

// Stats reports live entry counts for telemetry gauges.
type Stats struct {
	Entries int
	Pending int
}

// Stats returns a point-in-time snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Pending: len(c.pendingLoads)}
}
