package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// ErrThumbnailUnavailable 表示无法为视频生成缩略帧；整个请求按 io_error 失败。
var ErrThumbnailUnavailable = errors.New("video thumbnail unavailable")

// Thumbnailer 从视频文件中截取一帧。
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path string) (image.Image, error)
}

// FFmpegThumbnailer 调用 ffmpeg 截取首帧，Binary 为空时使用 PATH 中的 ffmpeg。
type FFmpegThumbnailer struct {
	Binary string
}

func (f FFmpegThumbnailer) Thumbnail(ctx context.Context, path string) (image.Image, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrThumbnailUnavailable, path, err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrThumbnailUnavailable, path, err)
	}
	return img, nil
}

// thumbnailSource 生成缩略帧并编码为 PNG 字节流。
func thumbnailSource(ctx context.Context, thumbnails Thumbnailer, path string) (*Source, error) {
	if thumbnails == nil {
		return nil, fmt.Errorf("%w: no thumbnailer configured", ErrThumbnailUnavailable)
	}
	frame, err := thumbnails.Thumbnail(ctx, path)
	if err != nil {
		if errors.Is(err, ErrThumbnailUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrThumbnailUnavailable, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("%w: %s", ErrThumbnailUnavailable, path)
	}

	buf := bytebufferpool.Get()
	if err := png.Encode(buf, frame); err != nil {
		bytebufferpool.Put(buf)
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return &Source{ReadCloser: newPooledReader(buf), Length: int64(buf.Len())}, nil
}

// pooledReader 直接读取池中的缓冲，Close 时归还。
type pooledReader struct {
	mu     sync.Mutex
	buf    *bytebufferpool.ByteBuffer
	reader *bytes.Reader
}

func newPooledReader(buf *bytebufferpool.ByteBuffer) *pooledReader {
	return &pooledReader{buf: buf, reader: bytes.NewReader(buf.B)}
}

func (r *pooledReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return 0, os.ErrClosed
	}
	return r.reader.Read(p)
}

func (r *pooledReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf != nil {
		bytebufferpool.Put(r.buf)
		r.buf = nil
		r.reader = nil
	}
	return nil
}

// videoExtensions 补充 Go 内置 MIME 表缺失的常见视频扩展名。
var videoExtensions = map[string]string{
	".3gp":  "video/3gpp",
	".avi":  "video/x-msvideo",
	".flv":  "video/x-flv",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".ts":   "video/mp2t",
	".webm": "video/webm",
	".wmv":  "video/x-ms-wmv",
}

func isVideoPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	mimeType, ok := videoExtensions[ext]
	if !ok {
		mimeType = mime.TypeByExtension(ext)
	}
	return strings.HasPrefix(mimeType, "video/")
}
