package fetch

import (
	"context"
	"fmt"
	"os"

	"github.com/any-hub/image-hub/internal/scheme"
)

// FileStrategy 读取本地文件；视频文件返回 PNG 缩略帧。
type FileStrategy struct {
	Thumbnails Thumbnailer
}

func (s *FileStrategy) Fetch(ctx context.Context, ref scheme.Ref, _ any) (*Source, error) {
	path := ref.Residual
	if isVideoPath(path) {
		return thumbnailSource(ctx, s.Thumbnails, path)
	}
	return openFile(path)
}

func openFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return NewSource(f, info.Size()), nil
}
