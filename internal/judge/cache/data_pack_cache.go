// Package cache keeps problem test data packs from object storage on local
// disk and serves them as testcases.
package cache

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	metaFileName  = "meta.json"
	tempFileName  = "data-pack.tmp"
	packSuffix    = ".tar.zst"
	lockKeyPrefix = "judge:datapack:lock:"
	lockTTL       = 5 * time.Minute
)

// DataPackConfig configures the local data pack cache.
type DataPackConfig struct {
	RootDir    string
	Bucket     string
	Prefix     string
	TTL        time.Duration
	LockWait   time.Duration
	MaxEntries int
	MaxBytes   int64
}

type cacheEntry struct {
	path      string
	sizeBytes int64
	expiresAt time.Time
}

// packMeta is written after a successful extraction.
type packMeta struct {
	ProblemID int64  `json:"problem_id"`
	ObjectKey string `json:"object_key"`
	ETag      string `json:"etag"`
	FetchedAt int64  `json:"fetched_at"`
}

// DataPackCache downloads <prefix>/<problemID>.tar.zst once per problem and
// keeps the extracted directory under TTL and LRU limits.
type DataPackCache struct {
	cfg     DataPackConfig
	storage storage.ObjectStorage
	lock    cache.LockOps

	fetchMu   sync.Mutex
	mu        sync.Mutex
	entries   map[int64]*cacheEntry
	lruKeys   []int64
	totalSize int64
}

// NewDataPackCache creates a new cache. lock may be nil for a single instance.
func NewDataPackCache(cfg DataPackConfig, storageClient storage.ObjectStorage, lock cache.LockOps) (*DataPackCache, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("data pack bucket is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 64
	}
	return &DataPackCache{
		cfg:     cfg,
		storage: storageClient,
		lock:    lock,
		entries: make(map[int64]*cacheEntry),
	}, nil
}

// ListByProblem returns the testcases described by the problem's data pack.
func (c *DataPackCache) ListByProblem(ctx context.Context, problemID int64) ([]model.Testcase, error) {
	dir, err := c.Get(ctx, problemID)
	if err != nil {
		return nil, err
	}
	tests, err := model.LoadTestcases(dir)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestCaseInvalid, "load data pack testcases failed")
	}
	return tests, nil
}

// Get returns the local directory of the extracted data pack.
func (c *DataPackCache) Get(ctx context.Context, problemID int64) (string, error) {
	if problemID <= 0 {
		return "", appErr.ValidationError("problem_id", "required")
	}
	dir := filepath.Join(c.cfg.RootDir, strconv.FormatInt(problemID, 10))
	if c.hitEntry(problemID) {
		return dir, nil
	}

	objectKey := c.objectKey(problemID)
	stat, err := c.storage.StatObject(ctx, c.cfg.Bucket, objectKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "stat data pack failed").WithDetail("object_key", objectKey)
	}
	if c.checkDisk(dir, stat.ETag) {
		c.addEntry(problemID, dir)
		return dir, nil
	}
	if err := c.fetchAndExtract(ctx, problemID, objectKey, stat.ETag, dir); err != nil {
		return "", err
	}
	c.addEntry(problemID, dir)
	return dir, nil
}

func (c *DataPackCache) objectKey(problemID int64) string {
	return path.Join(c.cfg.Prefix, strconv.FormatInt(problemID, 10)+packSuffix)
}

func (c *DataPackCache) hitEntry(problemID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[problemID]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntryLocked(problemID)
		return false
	}
	entry.expiresAt = time.Now().Add(c.cfg.TTL)
	c.touchLocked(problemID)
	return true
}

func (c *DataPackCache) checkDisk(dir, etag string) bool {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return false
	}
	var stored packMeta
	if err := json.Unmarshal(data, &stored); err != nil {
		return false
	}
	if etag != "" && stored.ETag != etag {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, model.ManifestFileName)); err != nil {
		return false
	}
	return true
}

func (c *DataPackCache) fetchAndExtract(ctx context.Context, problemID int64, objectKey, etag, dir string) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if c.lock != nil {
		lockKey := lockKeyPrefix + strconv.FormatInt(problemID, 10)
		token, locked, err := c.lock.TryLock(ctx, lockKey, lockTTL)
		if err != nil {
			return appErr.Wrapf(err, appErr.LockFailed, "acquire data pack lock failed")
		}
		if !locked {
			return c.waitForCache(ctx, dir, etag)
		}
		defer func() {
			if err := c.lock.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				logger.Warn(ctx, "release data pack lock failed", zap.Error(err))
			}
		}()
	}

	if c.checkDisk(dir, etag) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup cache dir failed")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create cache dir failed")
	}

	tempPath := filepath.Join(dir, tempFileName)
	if err := c.download(ctx, objectKey, tempPath); err != nil {
		return err
	}
	if err := extractDataPack(tempPath, dir); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}
	_ = os.Remove(tempPath)

	meta := packMeta{ProblemID: problemID, ObjectKey: objectKey, ETag: etag, FetchedAt: time.Now().Unix()}
	metaBytes, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(dir, metaFileName), metaBytes, 0644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write meta failed")
	}
	logger.Info(ctx, "data pack cached", zap.Int64("problem_id", problemID), zap.String("object_key", objectKey))
	return nil
}

func (c *DataPackCache) waitForCache(ctx context.Context, dir, etag string) error {
	deadline := time.Now().Add(c.cfg.LockWait)
	for {
		if c.checkDisk(dir, etag) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for data pack cache timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *DataPackCache) download(ctx context.Context, objectKey, dstPath string) error {
	reader, err := c.storage.GetObject(ctx, c.cfg.Bucket, objectKey)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "download data pack failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create data pack file failed")
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write data pack file failed")
	}
	return nil
}

func extractDataPack(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "open data pack failed")
	}
	defer file.Close()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create zstd reader failed")
	}
	defer zstdReader.Close()

	tr := tar.NewReader(zstdReader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "read tar entry failed")
		}
		if hdr.Name == "" || filepath.Clean(hdr.Name) == "." {
			continue
		}
		target, err := model.SafeJoin(dstDir, hdr.Name)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "invalid tar entry path")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create file failed")
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return appErr.Wrapf(err, appErr.CacheError, "write file failed")
			}
			_ = out.Close()
		default:
			// links and devices are skipped
		}
	}
	return nil
}

func (c *DataPackCache) addEntry(problemID int64, dir string) {
	size := dirSize(dir)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[problemID]; ok {
		c.totalSize -= existing.sizeBytes
	}
	c.entries[problemID] = &cacheEntry{
		path:      dir,
		sizeBytes: size,
		expiresAt: time.Now().Add(c.cfg.TTL),
	}
	c.totalSize += size
	c.touchLocked(problemID)
	c.evictLocked(problemID)
}

func (c *DataPackCache) touchLocked(problemID int64) {
	for i, k := range c.lruKeys {
		if k == problemID {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, problemID)
}

// evictLocked drops least recently used packs, never the one just added.
func (c *DataPackCache) evictLocked(keep int64) {
	for len(c.lruKeys) > 1 {
		overEntries := len(c.entries) > c.cfg.MaxEntries
		overBytes := c.cfg.MaxBytes > 0 && c.totalSize > c.cfg.MaxBytes
		if !overEntries && !overBytes {
			return
		}
		oldest := c.lruKeys[0]
		if oldest == keep {
			return
		}
		c.lruKeys = c.lruKeys[1:]
		c.removeEntryLocked(oldest)
	}
}

func (c *DataPackCache) removeEntryLocked(problemID int64) {
	entry, ok := c.entries[problemID]
	if !ok {
		return
	}
	delete(c.entries, problemID)
	for i, k := range c.lruKeys {
		if k == problemID {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.totalSize -= entry.sizeBytes
	_ = os.RemoveAll(entry.path)
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
