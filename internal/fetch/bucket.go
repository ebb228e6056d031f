package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/any-hub/image-hub/internal/scheme"
)

// BucketStrategy 把自定义 scheme（如 cdn://path/a.png）映射到 gocloud blob bucket 中的对象。
// 可以作为 Fetcher 的 fallback，也可以按前缀注册到 Registry。
type BucketStrategy struct {
	mu      sync.RWMutex
	buckets map[string]*blob.Bucket
}

// NewBucketStrategy 返回空的 BucketStrategy。
func NewBucketStrategy() *BucketStrategy {
	return &BucketStrategy{buckets: make(map[string]*blob.Bucket)}
}

// OpenBuckets 按 scheme 名 → bucket URL（file:///srv/img、mem:// 等）打开所有 bucket。
func OpenBuckets(ctx context.Context, urls map[string]string) (*BucketStrategy, error) {
	s := NewBucketStrategy()
	for name, bucketURL := range urls {
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open bucket %s (%s): %w", name, bucketURL, err)
		}
		s.Add(name, bucket)
	}
	return s, nil
}

// Add 绑定 scheme 名与 bucket，scheme 名不含 "://"。
func (s *BucketStrategy) Add(name string, bucket *blob.Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[strings.ToLower(strings.TrimSpace(name))] = bucket
}

// Schemes 返回排序后的 scheme 名。
func (s *BucketStrategy) Schemes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *BucketStrategy) Fetch(ctx context.Context, ref scheme.Ref, _ any) (*Source, error) {
	idx := strings.Index(ref.Locator, "://")
	if idx <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, UnsupportedSchemeMessage(ref.Locator))
	}
	name := strings.ToLower(ref.Locator[:idx])
	key := strings.TrimPrefix(ref.Locator[idx+3:], "/")

	s.mu.RLock()
	bucket, ok := s.buckets[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, UnsupportedSchemeMessage(ref.Locator))
	}

	reader, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("object %s: %w", ref.Locator, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open object %s: %w", ref.Locator, err)
	}
	return NewSource(reader, reader.Size()), nil
}

// Close 关闭所有 bucket。
func (s *BucketStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, bucket := range s.buckets {
		if err := bucket.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", name, err))
		}
		delete(s.buckets, name)
	}
	return errors.Join(errs...)
}
