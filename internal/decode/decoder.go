package decode

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/any-hub/image-hub/internal/failure"
	"github.com/any-hub/image-hub/internal/fetch"
)

// DefaultMaxDecodeBytes 是解码输出缓冲的默认上限。
const DefaultMaxDecodeBytes int64 = 64 << 20

// DefaultMaxSourceBytes 是全分辨率解码缓冲的默认上限。
// Go 的 codec 总是按原始尺寸分配，采样发生在解码之后。
const DefaultMaxSourceBytes int64 = 256 << 20

// ErrOutOfMemory 表示按当前采样率解码会超出内存预算。
var ErrOutOfMemory = errors.New("decoded image exceeds memory budget")

// BudgetError 记录超预算时的采样率，调用方据此提高 MinSampleSize 重试。
// FullResolution 为 true 时超限的是原始尺寸，提高采样率无济于事。
type BudgetError struct {
	SampleSize     int
	Size           Size
	Bytes          int64
	Limit          int64
	FullResolution bool
}

func (e *BudgetError) Error() string {
	if e.FullResolution {
		return fmt.Sprintf("%v: full resolution %s needs %s, limit %s",
			ErrOutOfMemory, e.Size, humanize.IBytes(uint64(e.Bytes)), humanize.IBytes(uint64(e.Limit)))
	}
	return fmt.Sprintf("%v: %s at sample size %d needs %s, limit %s",
		ErrOutOfMemory, e.Size, e.SampleSize, humanize.IBytes(uint64(e.Bytes)), humanize.IBytes(uint64(e.Limit)))
}

// Retryable reports whether a larger sample size can bring the decode under budget.
func (e *BudgetError) Retryable() bool {
	return !e.FullResolution
}

func (e *BudgetError) Unwrap() error {
	return ErrOutOfMemory
}

// DecoderOptions 配置 Decoder。
type DecoderOptions struct {
	// MaxDecodeBytes 限制采样后与缩放后缓冲的大小，<=0 时使用 DefaultMaxDecodeBytes。
	MaxDecodeBytes int64
	// MaxSourceBytes 限制全分辨率解码缓冲，<=0 时使用 DefaultMaxSourceBytes。
	MaxSourceBytes int64
	Logger         logrus.FieldLogger
}

// Decoder 按 Request 读取字节、规划并解码。无内部可变状态，可并发使用。
type Decoder struct {
	maxBytes  int64
	maxSource int64
	logger    logrus.FieldLogger
}

// Result 是一次成功解码的产物。
type Result struct {
	Image     image.Image
	Format    string
	Intrinsic Size
	Params    Params
}

// NewDecoder 构造 Decoder。
func NewDecoder(opts DecoderOptions) *Decoder {
	maxBytes := opts.MaxDecodeBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDecodeBytes
	}
	maxSource := opts.MaxSourceBytes
	if maxSource <= 0 {
		maxSource = DefaultMaxSourceBytes
	}
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Decoder{maxBytes: maxBytes, maxSource: maxSource, logger: logger}
}

// Decode 打开 req.URI()，探测尺寸，按规划解码并返回结果。
// 失败时返回 *failure.Reason（decoding_error / out_of_memory / io_error）
// 或 ctx 的错误；字节源在所有路径上都会被关闭。
func (d *Decoder) Decode(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := req.fetcher.Fetch(ctx, req.uri, req.extra)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	rr := newReplayReader(fetch.ContextReader(ctx, src))
	defer rr.Close()

	cfg, format, err := image.DecodeConfig(rr)
	if err != nil {
		return nil, d.decodeErr(ctx, fmt.Errorf("read image bounds of %s: %w", req.uri, err))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, failure.Decoding(fmt.Errorf("image %s has empty bounds %dx%d", req.uri, cfg.Width, cfg.Height))
	}
	intrinsic := Size{Width: cfg.Width, Height: cfg.Height}
	if err := d.checkSource(intrinsic); err != nil {
		return nil, err
	}

	var orientation Orientation
	if req.considerExif && format == "jpeg" {
		rr.Rewind()
		orientation, err = readOrientation(rr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d.logger.WithFields(logrus.Fields{"action": "decode_exif", "uri": req.uri}).
				WithError(err).Debug("exif orientation unavailable")
			orientation = Orientation{}
		}
	}

	params := Plan(PlanInput{
		Intrinsic:     intrinsic,
		Target:        req.target,
		Policy:        req.policy,
		Surface:       req.surface,
		Orientation:   orientation,
		MinSampleSize: req.minSampleSize,
		PixelFormat:   req.pixelFormat,
	})
	if err := d.checkBudget(params); err != nil {
		return nil, err
	}

	rr.Replay()
	img, _, err := image.Decode(rr)
	if err != nil {
		return nil, d.decodeErr(ctx, fmt.Errorf("decode %s image %s: %w", format, req.uri, err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := apply(img, params)
	d.logger.WithFields(logrus.Fields{
		"action":      "decode",
		"uri":         req.uri,
		"format":      format,
		"intrinsic":   intrinsic.String(),
		"sample_size": params.SampleSize,
		"output":      params.Output().String(),
	}).Debug("image decoded")

	return &Result{
		Image:     out,
		Format:    format,
		Intrinsic: intrinsic,
		Params:    params,
	}, nil
}

func (d *Decoder) decodeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var reason *failure.Reason
	if errors.As(err, &reason) {
		return reason
	}
	return failure.Decoding(err)
}

// checkSource 在解码前拒绝原始尺寸超限的图片，该错误不可重试。
func (d *Decoder) checkSource(intrinsic Size) error {
	need := int64(intrinsic.Width) * int64(intrinsic.Height) * 4
	if need <= d.maxSource {
		return nil
	}
	return failure.New(failure.KindOutOfMemory, &BudgetError{
		SampleSize:     1,
		Size:           intrinsic,
		Bytes:          need,
		Limit:          d.maxSource,
		FullResolution: true,
	})
}

func (d *Decoder) checkBudget(params Params) error {
	for _, size := range []Size{params.Sampled, params.Output()} {
		need := int64(size.Width) * int64(size.Height) * 4
		if need > d.maxBytes {
			return failure.New(failure.KindOutOfMemory, &BudgetError{
				SampleSize: params.SampleSize,
				Size:       size,
				Bytes:      need,
				Limit:      d.maxBytes,
			})
		}
	}
	return nil
}

// apply 依次执行：降采样、翻转、顺时针旋转、精确缩放、像素格式转换。
func apply(img image.Image, params Params) image.Image {
	if params.SampleSize > 1 {
		img = subsample(img, params.SampleSize)
	}

	if params.Orientation.FlipHorizontal {
		img = imaging.FlipH(img)
	}
	switch params.Orientation.Rotation {
	case 90:
		img = imaging.Rotate270(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate90(img)
	}

	switch params.Resize.Kind {
	case ResizeFill:
		img = imaging.Fill(img, params.Resize.Size.Width, params.Resize.Size.Height, imaging.Center, imaging.Lanczos)
	case ResizeScale:
		img = imaging.Resize(img, params.Resize.Size.Width, params.Resize.Size.Height, imaging.Lanczos)
	}

	return convert(img, params.PixelFormat)
}

func subsample(img image.Image, factor int) image.Image {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, max(1, b.Dx()/factor), max(1, b.Dy()/factor)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func convert(img image.Image, format PixelFormat) image.Image {
	b := img.Bounds()
	switch format {
	case PixelRGBA:
		if rgba, ok := img.(*image.RGBA); ok {
			return rgba
		}
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	case PixelGray:
		if gray, ok := img.(*image.Gray); ok {
			return gray
		}
		dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	default:
		if nrgba, ok := img.(*image.NRGBA); ok {
			return nrgba
		}
		return imaging.Clone(img)
	}
}
