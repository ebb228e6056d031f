package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/any-hub/image-hub/internal/scheme"
)

// MaxRedirects 是手动跟随重定向的上限。
const MaxRedirects = 5

// NetworkExtra 是 http/https 抓取可选的附加参数，例如鉴权头。
type NetworkExtra struct {
	Header http.Header
}

// StatusError 表示最终响应不是 200。
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("image request %s failed with response code %d", e.URL, e.Code)
}

// ErrMissingLocation 表示 3xx 响应缺少 Location 头。
var ErrMissingLocation = errors.New("redirect response without Location header")

// ErrReadTimeout 表示响应体在 read timeout 内没有新数据。
var ErrReadTimeout = errors.New("read timeout")

// NetworkStrategy 通过共享 http.Client 下载图片。
type NetworkStrategy struct {
	client      *http.Client
	readTimeout time.Duration
}

// NewNetworkStrategy 的 client 应禁用自动重定向（见 NewHTTPClient）。
func NewNetworkStrategy(client *http.Client, readTimeout time.Duration) *NetworkStrategy {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &NetworkStrategy{client: client, readTimeout: readTimeout}
}

// Fetch 打开连接、手动跟随最多 MaxRedirects 次重定向，并只接受 200 响应。
// 任何失败路径都会先读空并关闭响应体以便连接复用。
func (n *NetworkStrategy) Fetch(ctx context.Context, ref scheme.Ref, extra any) (*Source, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	resp, err := n.open(reqCtx, nil, ref.Locator, extra)
	if err != nil {
		cancel()
		return nil, err
	}

	redirects := 0
	for resp.StatusCode/100 == 3 && redirects < MaxRedirects {
		location := resp.Header.Get("Location")
		base := resp.Request.URL
		drainAndClose(resp.Body)
		if location == "" {
			cancel()
			return nil, fmt.Errorf("%w: %s", ErrMissingLocation, base)
		}
		resp, err = n.open(reqCtx, base, location, extra)
		if err != nil {
			cancel()
			return nil, err
		}
		redirects++
	}

	if resp.StatusCode != http.StatusOK {
		drainAndClose(resp.Body)
		cancel()
		return nil, &StatusError{Code: resp.StatusCode, URL: resp.Request.URL.String()}
	}

	body := newIdleTimeoutBody(resp.Body, n.readTimeout, cancel)
	return NewSource(body, resp.ContentLength), nil
}

func (n *NetworkStrategy) open(ctx context.Context, base *url.URL, raw string, extra any) (*http.Response, error) {
	target, err := url.Parse(EncodeURI(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if base != nil {
		target = base.ResolveReference(target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if opts, ok := extra.(NetworkExtra); ok {
		for key, values := range opts.Header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target.Redacted(), err)
	}
	return resp, nil
}

// idleTimeoutBody 在两次 Read 之间超过 timeout 时取消请求，对应连接的 read timeout。
type idleTimeoutBody struct {
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
	expired atomic.Bool
	once    sync.Once
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{
		body:    body,
		timeout: timeout,
		cancel:  cancel,
	}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	b.timer.Reset(b.timeout)
	n, err := b.body.Read(p)
	b.timer.Reset(b.timeout)
	if err != nil && err != io.EOF && b.expired.Load() {
		err = fmt.Errorf("%w after %s", ErrReadTimeout, b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	var err error
	b.once.Do(func() {
		b.timer.Stop()
		err = b.body.Close()
		b.cancel()
	})
	return err
}
