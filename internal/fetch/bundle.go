package fetch

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/any-hub/image-hub/internal/scheme"
)

// ResourceTable 把 drawable:// 的整数 id 映射到资源文件相对路径。
type ResourceTable map[int]string

// AssetStrategy 从打包资源目录中按相对路径读取。
type AssetStrategy struct {
	FS fs.FS
}

func (s *AssetStrategy) Fetch(_ context.Context, ref scheme.Ref, _ any) (*Source, error) {
	if s.FS == nil {
		return nil, fmt.Errorf("asset %s: assets not configured: %w", ref.Residual, fs.ErrNotExist)
	}
	return openFS(s.FS, ref.Residual)
}

// ResourceStrategy 通过 ResourceTable 把整数 id 解析为资源文件。
type ResourceStrategy struct {
	FS    fs.FS
	Table ResourceTable
}

func (s *ResourceStrategy) Fetch(_ context.Context, ref scheme.Ref, _ any) (*Source, error) {
	id, err := ref.ResourceID()
	if err != nil {
		return nil, err
	}
	name, ok := s.Table[id]
	if !ok || s.FS == nil {
		return nil, fmt.Errorf("resource %d: %w", id, fs.ErrNotExist)
	}
	return openFS(s.FS, name)
}

func openFS(fsys fs.FS, name string) (*Source, error) {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	f, err := fsys.Open(clean)
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
		return nil, fmt.Errorf("%s is a directory", clean)
	}
	return NewSource(f, info.Size()), nil
}
