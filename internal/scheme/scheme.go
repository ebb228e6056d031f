// Package scheme classifies image locators by their prefix. Classification is
// pure and total: every string maps to exactly one Scheme, Unknown when no
// supported prefix matches.
package scheme

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme 标识 locator 的来源类型。
type Scheme int

const (
	Unknown Scheme = iota
	HTTP
	HTTPS
	File
	Content
	Assets
	Drawable
)

// ContactsPrefix 是联系人头像 provider 的保留前缀。
const ContactsPrefix = "content://com.android.contacts/"

var known = []struct {
	scheme Scheme
	name   string
	prefix string
}{
	{HTTP, "http", "http://"},
	{HTTPS, "https", "https://"},
	{File, "file", "file://"},
	{Content, "content", "content://"},
	{Assets, "assets", "assets://"},
	{Drawable, "drawable", "drawable://"},
}

// Ref 是 Resolve 的结果：scheme 加去掉前缀后的标识。
type Ref struct {
	Scheme   Scheme
	Locator  string
	Residual string
}

// Resolve 根据前缀（大小写不敏感）识别 scheme，并剥离前缀得到 Residual。
// Unknown 时 Residual 等于原始 locator。
func Resolve(locator string) Ref {
	s := Of(locator)
	if s == Unknown {
		return Ref{Scheme: Unknown, Locator: locator, Residual: locator}
	}
	return Ref{Scheme: s, Locator: locator, Residual: locator[len(s.Prefix()):]}
}

// Of 返回 locator 所属的 scheme。
func Of(locator string) Scheme {
	for _, k := range known {
		if hasPrefixFold(locator, k.prefix) {
			return k.scheme
		}
	}
	return Unknown
}

// ResourceID parses the residual of a drawable:// locator.
func (r Ref) ResourceID() (int, error) {
	if r.Scheme != Drawable {
		return 0, fmt.Errorf("locator %q is not a drawable reference", r.Locator)
	}
	id, err := strconv.Atoi(strings.TrimSpace(r.Residual))
	if err != nil {
		return 0, fmt.Errorf("invalid drawable id %q: %w", r.Residual, err)
	}
	return id, nil
}

// Prefix 返回 scheme 的前缀，Unknown 为空串。
func (s Scheme) Prefix() string {
	for _, k := range known {
		if k.scheme == s {
			return k.prefix
		}
	}
	return ""
}

func (s Scheme) String() string {
	for _, k := range known {
		if k.scheme == s {
			return k.name
		}
	}
	return "unknown"
}

// IsNetwork 表示该 scheme 需要网络访问。
func (s Scheme) IsNetwork() bool {
	return s == HTTP || s == HTTPS
}

// Wrap 给路径加上 scheme 前缀，是 Crop 的逆操作。
func (s Scheme) Wrap(path string) string {
	return s.Prefix() + path
}

// Crop 去掉 locator 的 scheme 前缀；前缀不匹配时返回错误。
func (s Scheme) Crop(locator string) (string, error) {
	prefix := s.Prefix()
	if prefix == "" || !hasPrefixFold(locator, prefix) {
		return "", fmt.Errorf("locator %q doesn't have scheme %q", locator, s)
	}
	return locator[len(prefix):], nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
