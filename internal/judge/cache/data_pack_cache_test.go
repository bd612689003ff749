package cache_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"codejudge/internal/common/storage"
	judgecache "codejudge/internal/judge/cache"
	appErr "codejudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	etags   map[string]string
	gets    int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte), etags: make(map[string]string)}
}

func (f *fakeStorage) put(key string, data []byte, etag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.etags[key] = etag
}

func (f *fakeStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("The specified key does not exist.")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, errors.New("The specified key does not exist.")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data)), ETag: f.etags[bucket+"/"+key]}, nil
}

func (f *fakeStorage) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type tarFile struct {
	name string
	body string
}

func buildPack(t *testing.T, files []tarFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	if err := tw.WriteHeader(&tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatalf("write dir header: %v", err)
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(f.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}
	return buf.Bytes()
}

func samplePack(t *testing.T) []byte {
	return buildPack(t, []tarFile{
		{"manifest.json", `{"tests":[{"id":2,"input":"tests/2.in","output":"tests/2.out","weight":3},{"id":1,"input":"tests/1.in","output":"tests/1.out","sample":true}]}`},
		{"tests/1.in", "1 2\n"},
		{"tests/1.out", "3\n"},
		{"tests/2.in", "2 2\n"},
		{"tests/2.out", "4\n"},
	})
}

func newCache(t *testing.T, st *fakeStorage, maxEntries int) (*judgecache.DataPackCache, string) {
	t.Helper()
	root := t.TempDir()
	c, err := judgecache.NewDataPackCache(judgecache.DataPackConfig{
		RootDir:    root,
		Bucket:     "testdata",
		Prefix:     "packs",
		MaxEntries: maxEntries,
	}, st, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, root
}

func TestDataPackCacheListByProblem(t *testing.T) {
	t.Parallel()
	st := newFakeStorage()
	st.put("testdata/packs/7.tar.zst", samplePack(t), "etag-1")
	c, root := newCache(t, st, 0)

	tests, err := c.ListByProblem(context.Background(), 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tests) != 2 {
		t.Fatalf("expected 2 testcases, got %d", len(tests))
	}
	if tests[0].ID != 2 || tests[0].Input != "2 2\n" || *tests[0].Weight != 3 {
		t.Fatalf("unexpected testcase: %+v", tests[0])
	}
	if !tests[1].IsSample || tests[1].Output != "3\n" {
		t.Fatalf("unexpected testcase: %+v", tests[1])
	}
	if _, err := os.Stat(filepath.Join(root, "7", "data-pack.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp archive should be removed")
	}

	if _, err := c.ListByProblem(context.Background(), 7); err != nil {
		t.Fatalf("second list: %v", err)
	}
	if st.getCount() != 1 {
		t.Fatalf("expected one download, got %d", st.getCount())
	}
}

func TestDataPackCacheReusesDiskAcrossInstances(t *testing.T) {
	t.Parallel()
	st := newFakeStorage()
	st.put("testdata/packs/3.tar.zst", samplePack(t), "etag-1")
	root := t.TempDir()
	cfg := judgecache.DataPackConfig{RootDir: root, Bucket: "testdata", Prefix: "packs"}

	first, _ := judgecache.NewDataPackCache(cfg, st, nil)
	if _, err := first.Get(context.Background(), 3); err != nil {
		t.Fatalf("get: %v", err)
	}
	second, _ := judgecache.NewDataPackCache(cfg, st, nil)
	if _, err := second.Get(context.Background(), 3); err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.getCount() != 1 {
		t.Fatalf("expected disk reuse, got %d downloads", st.getCount())
	}

	st.put("testdata/packs/3.tar.zst", samplePack(t), "etag-2")
	third, _ := judgecache.NewDataPackCache(cfg, st, nil)
	if _, err := third.Get(context.Background(), 3); err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.getCount() != 2 {
		t.Fatalf("changed etag should refetch, got %d downloads", st.getCount())
	}
}

func TestDataPackCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	st := newFakeStorage()
	st.put("testdata/packs/1.tar.zst", samplePack(t), "a")
	st.put("testdata/packs/2.tar.zst", samplePack(t), "b")
	c, root := newCache(t, st, 1)

	if _, err := c.Get(context.Background(), 1); err != nil {
		t.Fatalf("get 1: %v", err)
	}
	if _, err := c.Get(context.Background(), 2); err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "1")); !os.IsNotExist(err) {
		t.Fatalf("expected pack 1 to be evicted")
	}
	if _, err := os.Stat(filepath.Join(root, "2", "manifest.json")); err != nil {
		t.Fatalf("expected pack 2 on disk: %v", err)
	}
}

func TestDataPackCacheRejectsEscapingEntries(t *testing.T) {
	t.Parallel()
	st := newFakeStorage()
	st.put("testdata/packs/4.tar.zst", buildPack(t, []tarFile{{"../evil", "x"}}), "e")
	c, root := newCache(t, st, 0)

	_, err := c.Get(context.Background(), 4)
	if appErr.GetCode(err) != appErr.CacheError {
		t.Fatalf("expected CacheError, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "evil")); !os.IsNotExist(err) {
		t.Fatalf("entry escaped the cache dir")
	}
}

func TestDataPackCacheMissingObject(t *testing.T) {
	t.Parallel()
	c, _ := newCache(t, newFakeStorage(), 0)
	if _, err := c.ListByProblem(context.Background(), 99); appErr.GetCode(err) != appErr.CacheError {
		t.Fatalf("expected CacheError, got %v", err)
	}
	if _, err := c.ListByProblem(context.Background(), 0); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}
