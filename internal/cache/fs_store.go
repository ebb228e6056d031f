package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
)

const copyChunkSize = 32 * 1024

var copyBuffers = sync.Pool{
	New: func() any {
		buf := make([]byte, copyChunkSize)
		return &buf
	},
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	if opts.NoMedia {
		marker := filepath.Join(abs, NoMediaFile)
		f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", NoMediaFile, err)
		}
		f.Close()
	}

	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return &fileStore{
		basePath: abs,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		chtimes:  os.Chtimes,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入/删除。
type fileStore struct {
	basePath string
	opts     Options
	logger   logrus.FieldLogger
	now      func() time.Time
	chtimes  func(name string, atime, mtime time.Time) error
	closed   atomic.Bool

	mu    sync.Mutex
	locks map[string]*entryLock

	evictMu sync.Mutex
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Directory() string {
	return s.basePath
}

func (s *fileStore) Lookup(ctx context.Context, locator string) (*Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	key := KeyFor(locator)
	filePath := s.entryPath(key)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	if s.expired(info.ModTime()) {
		s.removeExpired(key, filePath, locator)
		return nil, ErrNotFound
	}

	return &Entry{
		Locator:   locator,
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Open(ctx context.Context, locator string) (*ReadResult, error) {
	entry, err := s.Lookup(ctx, locator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(entry.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// 以打开后的文件信息为准，避免 Lookup 与 Open 之间被替换。
	if info, statErr := f.Stat(); statErr == nil {
		entry.SizeBytes = info.Size()
		entry.ModTime = info.ModTime()
	}

	return &ReadResult{
		Entry:  *entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator string, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	key := KeyFor(locator)
	entry, err := s.write(ctx, key, locator, body, opts)
	if err != nil {
		return nil, err
	}
	s.enforceMaxSize(key)
	return entry, nil
}

func (s *fileStore) write(ctx context.Context, key, locator string, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(key)
	defer unlock()

	filePath := s.entryPath(key)
	tempFile, err := os.CreateTemp(s.basePath, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	total := opts.Length
	if total <= 0 {
		total = -1
	}
	written, err := copyWithContext(ctx, tempFile, body, total, opts.Progress)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	// 在 rename 之前设置 mtime，条目一旦可见就带有正确的时间。
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = s.now().UTC()
	}
	if err := s.chtimes(tempName, modTime, modTime); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	return &Entry{
		Locator:   locator,
		Key:       key,
		FilePath:  filePath,
		SizeBytes: written,
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) PutImage(ctx context.Context, locator string, img image.Image, opts PutOptions) (*Entry, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	opts.Length = int64(buf.Len())
	return s.Put(ctx, locator, bytes.NewReader(buf.B), opts)
}

func (s *fileStore) Remove(ctx context.Context, locator string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.removeKey(KeyFor(locator))
}

func (s *fileStore) removeKey(key string) (bool, error) {
	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.Remove(s.entryPath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	files, err := s.entries()
	if err != nil {
		return err
	}
	var (
		removed int
		freed   int64
		errs    []error
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.removeKey(file.key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
			freed += file.size
		}
	}
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_clear",
		"entries": removed,
		"freed":   humanize.Bytes(uint64(freed)),
	}).Info("disk cache cleared")
	return errors.Join(errs...)
}

func (s *fileStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.check(ctx); err != nil {
		return Stats{}, err
	}
	files, err := s.entries()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Entries: len(files)}
	for _, file := range files {
		stats.Bytes += file.size
	}
	return stats, nil
}

func (s *fileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fileStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(key string) string {
	return filepath.Join(s.basePath, key)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	var copied int64
	bufp := copyBuffers.Get().(*[]byte)
	defer copyBuffers.Put(bufp)
	buf := *bufp
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
			if progress != nil && !progress(copied, total) {
				return copied, ErrAborted
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

type cachedFile struct {
	key     string
	size    int64
	modTime time.Time
}

// entries 列出根目录下的条目文件，跳过点文件与子目录。
func (s *fileStore) entries() ([]cachedFile, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	files := make([]cachedFile, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, cachedFile{key: de.Name(), size: info.Size(), modTime: info.ModTime()})
	}
	return files, nil
}

func (s *fileStore) expired(modTime time.Time) bool {
	return s.opts.MaxAge > 0 && s.now().Sub(modTime) > s.opts.MaxAge
}

func (s *fileStore) removeExpired(key, filePath, locator string) {
	unlock := s.lockEntry(key)
	defer unlock()

	// 加锁后复查，避免误删刚写入的新条目。
	info, err := os.Stat(filePath)
	if err != nil || !s.expired(info.ModTime()) {
		return
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.WithFields(logrus.Fields{"action": "cache_expire", "locator": locator}).
			WithError(err).Warn("remove expired entry failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_expire",
		"locator": locator,
		"age":     humanize.RelTime(info.ModTime(), s.now(), "ago", "from now"),
	}).Debug("expired entry removed")
}

// enforceMaxSize 按 ModTime 从旧到新淘汰条目，protect 对应的条目永不淘汰。
// 每次只持有一个条目锁。
func (s *fileStore) enforceMaxSize(protect string) {
	if s.opts.MaxSize <= 0 {
		return
	}
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	files, err := s.entries()
	if err != nil {
		s.logger.WithFields(logrus.Fields{"action": "cache_evict"}).WithError(err).Warn("list cache entries failed")
		return
	}
	var total int64
	for _, file := range files {
		total += file.size
	}
	if total <= s.opts.MaxSize {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].key < files[j].key
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	var (
		evicted int
		freed   int64
	)
	for _, file := range files {
		if total <= s.opts.MaxSize {
			break
		}
		if file.key == protect {
			continue
		}
		ok, err := s.removeKey(file.key)
		if err != nil {
			s.logger.WithFields(logrus.Fields{"action": "cache_evict", "key": file.key}).WithError(err).Warn("evict entry failed")
			continue
		}
		if ok {
			evicted++
			freed += file.size
		}
		total -= file.size
	}
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_evict",
		"entries": evicted,
		"freed":   humanize.Bytes(uint64(freed)),
		"limit":   humanize.Bytes(uint64(s.opts.MaxSize)),
	}).Info("disk cache trimmed")
}
