package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/any-hub/image-hub/internal/scheme"
)

// ErrLocatorForbidden 表示 locator 不在 /image 允许访问的范围内。
var ErrLocatorForbidden = errors.New("locator not allowed")

// AccessPolicy 限定 /image 可以请求的 scheme 与本地目录。
// file:// 只在路径落在某个 root 之内时放行。
type AccessPolicy struct {
	schemes map[string]struct{}
	roots   []string
}

// NewAccessPolicy 以 scheme 名（http、file、bucket 名等）与 file 根目录构造策略。
func NewAccessPolicy(schemes []string, fileRoots []string) *AccessPolicy {
	p := &AccessPolicy{schemes: make(map[string]struct{}, len(schemes))}
	for _, name := range schemes {
		p.schemes[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	for _, root := range fileRoots {
		p.roots = append(p.roots, resolvePath(root))
	}
	return p
}

// Check 返回 nil 表示 locator 可以被加载；nil 策略放行一切。
func (p *AccessPolicy) Check(locator string) error {
	if p == nil {
		return nil
	}
	name := schemeName(locator)
	if _, ok := p.schemes[name]; !ok || name == "" {
		return fmt.Errorf("%w: scheme %q", ErrLocatorForbidden, name)
	}
	if name != scheme.File.String() {
		return nil
	}
	ref := scheme.Resolve(locator)
	if !filepath.IsAbs(ref.Residual) {
		return fmt.Errorf("%w: relative path %q", ErrLocatorForbidden, ref.Residual)
	}
	target := resolvePath(ref.Residual)
	for _, root := range p.roots {
		if within(root, target) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is outside the file roots", ErrLocatorForbidden, ref.Residual)
}

func schemeName(locator string) string {
	if s := scheme.Of(locator); s != scheme.Unknown {
		return s.String()
	}
	idx := strings.Index(locator, "://")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(locator[:idx])
}

// resolvePath 清理路径并尽量展开符号链接，避免链接指向 root 之外。
func resolvePath(path string) string {
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir, base := filepath.Split(path)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base)
	}
	return path
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
