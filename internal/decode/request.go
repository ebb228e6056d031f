package decode

import (
	"errors"

	"github.com/any-hub/image-hub/internal/fetch"
)

// RequestOptions 是构造 Request 的输入。
type RequestOptions struct {
	// Key 是内存缓存键。
	Key string
	// URI 是实际读取的 locator，通常是磁盘缓存文件的 file:// 路径。
	URI string
	// OriginalURI 是调用方请求的 locator。
	OriginalURI   string
	Target        Size
	Policy        ScalePolicy
	Surface       SurfaceMode
	Fetcher       fetch.Interface
	Extra         any
	ConsiderExif  bool
	MinSampleSize int
	PixelFormat   PixelFormat
}

// Request 是一次解码的全部输入，构造后不可变，可以安全地跨 goroutine 传值。
type Request struct {
	key           string
	uri           string
	originalURI   string
	target        Size
	policy        ScalePolicy
	surface       SurfaceMode
	fetcher       fetch.Interface
	extra         any
	considerExif  bool
	minSampleSize int
	pixelFormat   PixelFormat
}

// NewRequest 校验并冻结 opts。
func NewRequest(opts RequestOptions) (Request, error) {
	if opts.URI == "" {
		return Request{}, errors.New("decode request requires a uri")
	}
	if opts.Fetcher == nil {
		return Request{}, errors.New("decode request requires a fetcher")
	}
	original := opts.OriginalURI
	if original == "" {
		original = opts.URI
	}
	key := opts.Key
	if key == "" {
		key = original
	}
	return Request{
		key:           key,
		uri:           opts.URI,
		originalURI:   original,
		target:        opts.Target,
		policy:        opts.Policy,
		surface:       opts.Surface,
		fetcher:       opts.Fetcher,
		extra:         opts.Extra,
		considerExif:  opts.ConsiderExif,
		minSampleSize: max(opts.MinSampleSize, 1),
		pixelFormat:   opts.PixelFormat,
	}, nil
}

func (r Request) Key() string {
	return r.key
}

func (r Request) URI() string {
	return r.uri
}

func (r Request) OriginalURI() string {
	return r.originalURI
}

func (r Request) Target() Size {
	return r.target
}

func (r Request) Policy() ScalePolicy {
	return r.policy
}

func (r Request) Surface() SurfaceMode {
	return r.surface
}

func (r Request) Extra() any {
	return r.extra
}

func (r Request) ConsiderExif() bool {
	return r.considerExif
}

func (r Request) MinSampleSize() int {
	return r.minSampleSize
}

func (r Request) PixelFormat() PixelFormat {
	return r.pixelFormat
}

// WithMinSampleSize 返回提高了最小采样率的副本，原值不变。
func (r Request) WithMinSampleSize(n int) Request {
	r.minSampleSize = max(n, 1)
	return r
}

// WithURI 返回改为从 uri 读取的副本，用于磁盘缓存写入失败后回退到原始 locator。
func (r Request) WithURI(uri string) Request {
	r.uri = uri
	return r
}
