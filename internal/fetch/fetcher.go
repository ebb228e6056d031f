package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/any-hub/image-hub/internal/failure"
	"github.com/any-hub/image-hub/internal/scheme"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 20 * time.Second
)

var (
	// ErrUnsupportedScheme 表示没有任何策略可以处理该 locator。
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	// ErrNetworkDenied 表示当前禁止网络访问。
	ErrNetworkDenied = errors.New("network access denied")
)

// Interface 是流水线依赖的抓取契约。
type Interface interface {
	Fetch(ctx context.Context, locator string, extra any) (*Source, error)
}

// Strategy 负责单一 scheme 的抓取。
type Strategy interface {
	Fetch(ctx context.Context, ref scheme.Ref, extra any) (*Source, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, ref scheme.Ref, extra any) (*Source, error)

// Fetch makes StrategyFunc satisfy Strategy.
func (f StrategyFunc) Fetch(ctx context.Context, ref scheme.Ref, extra any) (*Source, error) {
	return f(ctx, ref, extra)
}

// Options 汇总 Fetcher 的依赖，零值字段使用默认实现或在访问时报错。
type Options struct {
	HTTPClient     *http.Client
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Thumbnailer    Thumbnailer
	Resolver       ContentResolver
	Contacts       ContactPhotoOpener
	Assets         fs.FS
	Resources      fs.FS
	ResourceTable  ResourceTable
	Registry       *Registry
	// Fallback 处理 Unknown 且未命中 Registry 的 locator。
	Fallback Strategy
}

// Fetcher 按 scheme 分派到各个 Strategy。
type Fetcher struct {
	strategies map[scheme.Scheme]Strategy
	registry   *Registry
	fallback   Strategy
}

// New 根据 Options 组装默认策略集合。
func New(opts Options) *Fetcher {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient(connectTimeout, readTimeout)
	}
	thumbnails := opts.Thumbnailer
	if thumbnails == nil {
		thumbnails = FFmpegThumbnailer{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	network := NewNetworkStrategy(client, readTimeout)
	return &Fetcher{
		strategies: map[scheme.Scheme]Strategy{
			scheme.HTTP:     network,
			scheme.HTTPS:    network,
			scheme.File:     &FileStrategy{Thumbnails: thumbnails},
			scheme.Content:  &ContentStrategy{Resolver: opts.Resolver, Contacts: opts.Contacts, Thumbnails: thumbnails},
			scheme.Assets:   &AssetStrategy{FS: opts.Assets},
			scheme.Drawable: &ResourceStrategy{FS: opts.Resources, Table: opts.ResourceTable},
		},
		registry: registry,
		fallback: opts.Fallback,
	}
}

// Fetch 解析 locator 并调用对应策略，所有错误都包装为 failure.Reason。
func (f *Fetcher) Fetch(ctx context.Context, locator string, extra any) (*Source, error) {
	ref := scheme.Resolve(locator)
	strategy := f.strategies[ref.Scheme]
	if ref.Scheme == scheme.Unknown || strategy == nil {
		strategy = f.otherSource(locator)
	}
	if strategy == nil {
		return nil, unsupported(locator)
	}

	src, err := strategy.Fetch(ctx, ref, extra)
	if err != nil {
		return nil, failure.IO(err)
	}
	return src, nil
}

func (f *Fetcher) otherSource(locator string) Strategy {
	if s, ok := f.registry.Lookup(locator); ok {
		return s
	}
	return f.fallback
}

// UnsupportedSchemeMessage 生成不支持 scheme 时的诊断文本。
func UnsupportedSchemeMessage(locator string) string {
	return fmt.Sprintf("no fetch strategy for %q; register a prefix strategy or a fallback to support this scheme", locator)
}

func unsupported(locator string) error {
	return failure.IO(fmt.Errorf("%w: %s", ErrUnsupportedScheme, UnsupportedSchemeMessage(locator)))
}

// DenyNetwork wraps next so that http/https locators fail with network_denied
// while every other scheme still works (e.g. disk-cached file:// paths).
func DenyNetwork(next Interface) Interface {
	return networkDenied{next: next}
}

type networkDenied struct {
	next Interface
}

func (n networkDenied) Fetch(ctx context.Context, locator string, extra any) (*Source, error) {
	if scheme.Of(locator).IsNetwork() {
		return nil, failure.New(failure.KindNetworkDenied, fmt.Errorf("%w: %s", ErrNetworkDenied, locator))
	}
	return n.next.Fetch(ctx, locator, extra)
}
