package fetch

import (
	"bufio"
	"context"
	"io"
)

// BufferSize 是所有流式读取的块大小。
const BufferSize = 32 * 1024

// UnknownLength 表示 Source 的总长度未知。
const UnknownLength int64 = -1

// Source 是 fetch 的产物：可读流 + 声明长度。调用方获得所有权，必须在所有路径上 Close。
type Source struct {
	io.ReadCloser
	Length int64
}

// NewSource 用 32 KiB 缓冲包装 rc。
func NewSource(rc io.ReadCloser, length int64) *Source {
	if length < 0 {
		length = UnknownLength
	}
	return &Source{
		ReadCloser: &bufferedReadCloser{Reader: bufio.NewReaderSize(rc, BufferSize), closer: rc},
		Length:     length,
	}
}

type bufferedReadCloser struct {
	*bufio.Reader
	closer io.Closer
}

func (b *bufferedReadCloser) Close() error {
	return b.closer.Close()
}

// ContextReader caps every Read at BufferSize and fails with ctx.Err() once
// the context is done, so long copies observe cancellation between chunks.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > BufferSize {
		p = p[:BufferSize]
	}
	return c.r.Read(p)
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
