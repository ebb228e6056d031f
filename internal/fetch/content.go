package fetch

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/any-hub/image-hub/internal/scheme"
)

// ContactsAuthority 是联系人 provider 的 authority。
const ContactsAuthority = "com.android.contacts"

// ContentResolver 将 content:// URI 解析为本地文件路径；找不到时返回包装了
// fs.ErrNotExist 的错误。
type ContentResolver interface {
	Resolve(ctx context.Context, uri *url.URL) (string, error)
}

// ContactPhotoOpener 打开联系人头像流。
type ContactPhotoOpener interface {
	OpenContactPhoto(ctx context.Context, uri *url.URL, preferHighRes bool) (*Source, error)
}

// ContentStrategy 处理 content:// locator：联系人走头像接口，视频返回缩略帧，其余直接读取。
type ContentStrategy struct {
	Resolver   ContentResolver
	Contacts   ContactPhotoOpener
	Thumbnails Thumbnailer
}

func (s *ContentStrategy) Fetch(ctx context.Context, ref scheme.Ref, _ any) (*Source, error) {
	uri, err := url.Parse(ref.Locator)
	if err != nil {
		return nil, fmt.Errorf("parse content uri %q: %w", ref.Locator, err)
	}

	if strings.HasPrefix(strings.ToLower(ref.Locator), scheme.ContactsPrefix) {
		if s.Contacts == nil {
			return nil, fmt.Errorf("contact photo %s: %w", ref.Locator, fs.ErrNotExist)
		}
		return s.Contacts.OpenContactPhoto(ctx, uri, true)
	}

	if s.Resolver == nil {
		return nil, fmt.Errorf("content %s: no resolver: %w", ref.Locator, fs.ErrNotExist)
	}
	localPath, err := s.Resolver.Resolve(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref.Locator, err)
	}

	mt, err := mimetype.DetectFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("detect content type of %s: %w", ref.Locator, err)
	}
	if strings.HasPrefix(mt.String(), "video/") {
		return thumbnailSource(ctx, s.Thumbnails, localPath)
	}
	return openFile(localPath)
}

// DirResolver 把每个 authority 映射到一个本地根目录，同时实现联系人头像查找：
// <root>/contacts/<id>/display_photo.* 优先于 photo.*。
type DirResolver struct {
	roots map[string]string
}

// NewDirResolver 的 roots 为 authority → 根目录。
func NewDirResolver(roots map[string]string) *DirResolver {
	normalized := make(map[string]string, len(roots))
	for authority, root := range roots {
		normalized[strings.ToLower(strings.TrimSpace(authority))] = root
	}
	return &DirResolver{roots: normalized}
}

func (r *DirResolver) Resolve(_ context.Context, uri *url.URL) (string, error) {
	full, err := r.localPath(uri)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", uri, fs.ErrNotExist)
	}
	return full, nil
}

func (r *DirResolver) OpenContactPhoto(_ context.Context, uri *url.URL, preferHighRes bool) (*Source, error) {
	dir, err := r.localPath(uri)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := []string{"photo", "display_photo"}
	if preferHighRes {
		names = []string{"display_photo", "photo"}
	}
	for _, name := range names {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())) == name {
				return openFile(filepath.Join(dir, entry.Name()))
			}
		}
	}
	return nil, fmt.Errorf("contact photo %s: %w", uri, fs.ErrNotExist)
}

func (r *DirResolver) localPath(uri *url.URL) (string, error) {
	root, ok := r.roots[strings.ToLower(uri.Host)]
	if !ok {
		return "", fmt.Errorf("no provider for authority %q: %w", uri.Host, fs.ErrNotExist)
	}
	rel := strings.TrimPrefix(path.Clean("/"+uri.Path), "/")
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}
