package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/image-hub/internal/cache"
	"github.com/any-hub/image-hub/internal/decode"
	"github.com/any-hub/image-hub/internal/failure"
	"github.com/any-hub/image-hub/internal/fetch"
	"github.com/any-hub/image-hub/internal/scheme"
)

// DefaultMemoryEntries 是内存缓存的默认条目数。
const DefaultMemoryEntries = 128

// Options 配置 Loader。
type Options struct {
	Fetcher fetch.Interface
	Cache   cache.Store
	Decoder *decode.Decoder
	// MemoryEntries <= 0 时使用 DefaultMemoryEntries。
	MemoryEntries int
	// AllowNetwork 为 false 时 http/https 的抓取以 network_denied 失败。
	AllowNetwork bool
	// DecodeRetries 是 out_of_memory 后提高采样率重试的次数。
	DecodeRetries int
	Logger        logrus.FieldLogger
	// Registerer 为空时指标只在内部记录，不对外注册。
	Registerer prometheus.Registerer
}

// Loader 驱动整条流水线，可被多个 goroutine 并发使用。
type Loader struct {
	fetcher fetch.Interface
	cache   cache.Store
	decoder *decode.Decoder
	memory  *lru.Cache[string, *Image]
	group   singleflight.Group
	retries int
	logger  logrus.FieldLogger
	metrics *Metrics
}

// stage 是磁盘阶段的结果：解码应读取的 locator 及其来源层。
type stage struct {
	uri    string
	source Source
}

// New 构造 Loader。
func New(opts Options) (*Loader, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("loader requires a fetcher")
	}
	if opts.Cache == nil {
		return nil, errors.New("loader requires a cache store")
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decode.NewDecoder(decode.DecoderOptions{Logger: opts.Logger})
	}
	entries := opts.MemoryEntries
	if entries <= 0 {
		entries = DefaultMemoryEntries
	}
	memory, err := lru.New[string, *Image](entries)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	fetcher := opts.Fetcher
	if !opts.AllowNetwork {
		fetcher = fetch.DenyNetwork(fetcher)
	}

	return &Loader{
		fetcher: fetcher,
		cache:   opts.Cache,
		decoder: decoder,
		memory:  memory,
		retries: max(opts.DecodeRetries, 0),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Load 执行一次加载并通过 listener 报告结果，阻塞直到终止事件发出。
func (l *Loader) Load(ctx context.Context, locator string, opts DisplayOptions, listener Listener) {
	n := newNotifier(locator, listener)
	n.started()

	img, err := l.load(ctx, locator, opts)
	switch {
	case err == nil:
		l.metrics.observeResult("completed")
		n.completed(img)
	case ctx.Err() != nil:
		l.metrics.observeResult("cancelled")
		l.logger.WithFields(logrus.Fields{"action": "load", "uri": locator}).Debug("load cancelled")
		n.cancelled()
	default:
		reason := failure.Classify(err)
		l.metrics.observeResult(string(reason.Kind))
		l.logger.WithFields(logrus.Fields{
			"action": "load",
			"uri":    locator,
			"reason": reason.Kind,
		}).WithError(reason.Cause).Warn("load failed")
		n.failed(reason)
	}
}

// LoadSync 是 Load 的同步形式：成功返回图像；失败返回 *failure.Reason；取消返回 ctx 的错误。
func (l *Loader) LoadSync(ctx context.Context, locator string, opts DisplayOptions) (*Image, error) {
	results := make(chan syncResult, 1)
	l.Load(ctx, locator, opts, ListenerFuncs{
		OnCompleted: func(_ string, img *Image) { results <- syncResult{img: img} },
		OnFailed:    func(_ string, reason *failure.Reason) { results <- syncResult{err: reason} },
		OnCancelled: func(string) {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			results <- syncResult{err: err}
		},
	})
	res := <-results
	return res.img, res.err
}

type syncResult struct {
	img *Image
	err error
}

// Forget 删除 locator 在内存与磁盘中的缓存。
func (l *Loader) Forget(ctx context.Context, locator string) (bool, error) {
	prefix := locator + "_"
	for _, key := range l.memory.Keys() {
		rest, ok := strings.CutPrefix(key, prefix)
		if ok && !strings.Contains(rest, "_") {
			l.memory.Remove(key)
		}
	}
	return l.cache.Remove(ctx, locator)
}

// Purge 清空内存缓存与磁盘缓存。
func (l *Loader) Purge(ctx context.Context) error {
	l.memory.Purge()
	return l.cache.Clear(ctx)
}

// MemoryLen 返回内存缓存中的条目数。
func (l *Loader) MemoryLen() int {
	return l.memory.Len()
}

func (l *Loader) load(ctx context.Context, locator string, opts DisplayOptions) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := MemoryKey(locator, opts.Target)
	if opts.CacheInMemory {
		if cached, ok := l.memory.Get(key); ok {
			l.metrics.observeHit(SourceMemory)
			hit := *cached
			hit.Source = SourceMemory
			return &hit, nil
		}
	}

	st := stage{uri: locator, source: SourceNetwork}
	if opts.CacheOnDisk {
		var err error
		st, err = l.diskStage(ctx, locator, opts.Extra)
		if err != nil {
			return nil, err
		}
	}

	req, err := decode.NewRequest(decode.RequestOptions{
		Key:          key,
		URI:          st.uri,
		OriginalURI:  locator,
		Target:       opts.Target,
		Policy:       opts.ScalePolicy,
		Surface:      opts.Surface,
		Fetcher:      l.fetcher,
		Extra:        opts.Extra,
		ConsiderExif: opts.ConsiderExif,
		PixelFormat:  opts.PixelFormat,
	})
	if err != nil {
		return nil, failure.New(failure.KindUnknown, err)
	}

	result, err := l.decode(ctx, req)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Key:       key,
		Locator:   locator,
		Image:     result.Image,
		Format:    result.Format,
		Source:    st.source,
		Intrinsic: result.Intrinsic,
		Params:    result.Params,
	}
	if opts.CacheInMemory {
		l.memory.Add(key, img)
	}
	return img, nil
}

// diskStage 在每个 locator 上最多同时运行一次：查磁盘缓存，未命中则抓取并写入。
// 跟随者在领导者被取消而自己仍有效时重试一次。
func (l *Loader) diskStage(ctx context.Context, locator string, extra any) (stage, error) {
	st, shared, err := l.sharedStage(ctx, locator, extra)
	if err != nil && shared && ctx.Err() == nil && isCancellation(err) {
		st, _, err = l.sharedStage(ctx, locator, extra)
	}
	return st, err
}

func (l *Loader) sharedStage(ctx context.Context, locator string, extra any) (stage, bool, error) {
	ch := l.group.DoChan(locator, func() (any, error) {
		return l.fetchToDisk(ctx, locator, extra)
	})
	select {
	case <-ctx.Done():
		return stage{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return stage{}, res.Shared, res.Err
		}
		return res.Val.(stage), res.Shared, nil
	}
}

func (l *Loader) fetchToDisk(ctx context.Context, locator string, extra any) (stage, error) {
	entry, err := l.cache.Lookup(ctx, locator)
	if err == nil {
		l.metrics.observeHit(SourceDisk)
		return stage{uri: scheme.File.Wrap(entry.FilePath), source: SourceDisk}, nil
	}
	if ctx.Err() != nil {
		return stage{}, ctx.Err()
	}
	if !errors.Is(err, cache.ErrNotFound) {
		l.logger.WithFields(logrus.Fields{"action": "cache_lookup", "uri": locator}).
			WithError(err).Warn("disk cache lookup failed")
	}

	src, err := l.fetcher.Fetch(ctx, locator, extra)
	l.metrics.observeFetch(scheme.Of(locator).String(), err)
	if err != nil {
		return stage{}, err
	}
	defer src.Close()

	entry, err = l.cache.Put(ctx, locator, src, cache.PutOptions{Length: src.Length})
	if err != nil {
		if ctx.Err() != nil {
			return stage{}, ctx.Err()
		}
		l.logger.WithFields(logrus.Fields{"action": "cache_put", "uri": locator}).
			WithError(err).Warn("disk cache write failed, decoding from source")
		return stage{uri: locator, source: SourceNetwork}, nil
	}
	return stage{uri: scheme.File.Wrap(entry.FilePath), source: SourceNetwork}, nil
}

func (l *Loader) decode(ctx context.Context, req decode.Request) (*decode.Result, error) {
	for attempt := 0; ; attempt++ {
		started := time.Now()
		result, err := l.decoder.Decode(ctx, req)
		if err == nil {
			l.metrics.observeDecode(result.Format, time.Since(started))
			return result, nil
		}

		var budget *decode.BudgetError
		if attempt >= l.retries || !errors.As(err, &budget) || !budget.Retryable() || ctx.Err() != nil {
			return nil, err
		}
		next := budget.SampleSize * 2
		l.metrics.observeRetry()
		l.logger.WithFields(logrus.Fields{
			"action":      "decode_retry",
			"uri":         req.OriginalURI(),
			"sample_size": next,
			"attempt":     attempt + 1,
		}).Info("decode exceeded memory budget, retrying with larger sample size")
		req = req.WithMinSampleSize(next)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
