package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/catalog/pkg/catalog/model"
)

// fakeStorage serves a fixed archive's bytes, counting how many times
// Fetch is called so tests can assert on load coalescing.
type fakeStorage struct {
	archive  []byte
	fetchCnt int32
	delay    time.Duration
}

func (f *fakeStorage) Fetch(ctx context.Context, v *model.JobBundleVersion, destPath string) error {
	atomic.AddInt32(&f.fetchCnt, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, f.archive, 0o644)
}

func buildArchiveBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func testBundleVersion(archive []byte) *model.JobBundleVersion {
	return &model.JobBundleVersion{
		BundleSlug:      "widget",
		Version:         1,
		Checksum:        sha256Hex(archive),
		ArtifactStorage: model.ArtifactStorageLocal,
		ArtifactPath:    "widget-1.tar.gz",
		Manifest:        model.BundleManifest{Entry: "index.js"},
	}
}

func newTestCache(t *testing.T, storage ArtifactStorage, cfg Config) *Cache {
	t.Helper()
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = t.TempDir()
	}
	return New(cfg, map[model.ArtifactStorage]ArtifactStorage{model.ArtifactStorageLocal: storage})
}

func TestCache_AcquireExtractsAndResolvesEntry(t *testing.T) {
	archive := buildArchiveBytes(t, map[string]string{"index.js": "console.log(1)"})
	fs := &fakeStorage{archive: archive}
	c := newTestCache(t, fs, Config{})

	acquired, err := c.Acquire(context.Background(), testBundleVersion(archive))
	require.NoError(t, err)
	defer acquired.Release()

	data, err := os.ReadFile(acquired.EntryFile)
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fs.fetchCnt))
}

func TestCache_AcquireRejectsChecksumMismatch(t *testing.T) {
	archive := buildArchiveBytes(t, map[string]string{"index.js": "x"})
	fs := &fakeStorage{archive: archive}
	c := newTestCache(t, fs, Config{})

	v := testBundleVersion(archive)
	v.Checksum = "deadbeef"

	_, err := c.Acquire(context.Background(), v)
	assert.Error(t, err)
}

func TestCache_SecondAcquireReusesLiveEntry(t *testing.T) {
	archive := buildArchiveBytes(t, map[string]string{"index.js": "x"})
	fs := &fakeStorage{archive: archive}
	c := newTestCache(t, fs, Config{})
	v := testBundleVersion(archive)

	a1, err := c.Acquire(context.Background(), v)
	require.NoError(t, err)
	a2, err := c.Acquire(context.Background(), v)
	require.NoError(t, err)

	assert.Equal(t, a1.Directory, a2.Directory)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fs.fetchCnt))

	a1.Release()
	a2.Release()
}

func TestCache_ConcurrentAcquiresCoalesceIntoOneFetch(t *testing.T) {
	archive := buildArchiveBytes(t, map[string]string{"index.js": "x"})
	fs := &fakeStorage{archive: archive, delay: 50 * time.Millisecond}
	c := newTestCache(t, fs, Config{})
	v := testBundleVersion(archive)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			a, err := c.Acquire(context.Background(), v)
			errs[idx] = err
			if a != nil {
				defer a.Release()
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fs.fetchCnt))
}

func TestCache_EvictsZeroRefEntriesPastTTL(t *testing.T) {
	archive := buildArchiveBytes(t, map[string]string{"index.js": "x"})
	fs := &fakeStorage{archive: archive}
	c := newTestCache(t, fs, Config{TTL: time.Millisecond})
	v := testBundleVersion(archive)

	acquired, err := c.Acquire(context.Background(), v)
	require.NoError(t, err)
	dir := acquired.Directory
	acquired.Release()

	time.Sleep(5 * time.Millisecond)
	c.evict()

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCache_EvictsLRUPastMaxEntries(t *testing.T) {
	archive1 := buildArchiveBytes(t, map[string]string{"index.js": "one"})
	archive2 := buildArchiveBytes(t, map[string]string{"index.js": "two"})
	root := t.TempDir()

	fs1 := &fakeStorage{archive: archive1}
	c := newTestCache(t, fs1, Config{MaxEntries: 1, StorageRoot: root})

	v1 := testBundleVersion(archive1)
	v1.Version = 1
	a1, err := c.Acquire(context.Background(), v1)
	require.NoError(t, err)
	a1.Release()

	c.storage[model.ArtifactStorageLocal] = &fakeStorage{archive: archive2}
	v2 := testBundleVersion(archive2)
	v2.Version = 2
	a2, err := c.Acquire(context.Background(), v2)
	require.NoError(t, err)
	defer a2.Release()

	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCache_AcquireMissingStorageBackend(t *testing.T) {
	archive := buildArchiveBytes(t, map[string]string{"index.js": "x"})
	c := New(Config{StorageRoot: t.TempDir()}, map[model.ArtifactStorage]ArtifactStorage{})

	v := testBundleVersion(archive)
	_, err := c.Acquire(context.Background(), v)
	assert.Error(t, err)
}
