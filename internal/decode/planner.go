package decode

import "math"

// ResizeKind 是采样之后的精确缩放步骤。
type ResizeKind int

const (
	// ResizeNone 不做额外缩放。
	ResizeNone ResizeKind = iota
	// ResizeScale 等比缩放到 Resize.Size。
	ResizeScale
	// ResizeFill 等比缩放后居中裁剪，输出恰好为 Resize.Size。
	ResizeFill
)

func (k ResizeKind) String() string {
	switch k {
	case ResizeScale:
		return "scale"
	case ResizeFill:
		return "fill"
	default:
		return "none"
	}
}

// Resize 描述精确缩放步骤及其输出尺寸。
type Resize struct {
	Kind ResizeKind `json:"kind"`
	Size Size       `json:"size"`
}

// PlanInput 是 Plan 的全部输入。
type PlanInput struct {
	// Intrinsic 是编码数据中的原始尺寸（未旋转）。
	Intrinsic     Size
	Target        Size
	Policy        ScalePolicy
	Surface       SurfaceMode
	Orientation   Orientation
	MinSampleSize int
	PixelFormat   PixelFormat
}

// Params 是解码参数，Plan 生成后只读。
type Params struct {
	SampleSize  int         `json:"sample_size"`
	Orientation Orientation `json:"orientation"`
	// Sampled 是采样并旋转之后的尺寸。
	Sampled     Size        `json:"sampled"`
	Resize      Resize      `json:"resize"`
	PixelFormat PixelFormat `json:"pixel_format"`
}

// Output 返回最终输出尺寸。
func (p Params) Output() Size {
	if p.Resize.Kind == ResizeNone {
		return p.Sampled
	}
	return p.Resize.Size
}

// Plan 计算采样率与缩放步骤，不做任何 I/O。
func Plan(in PlanInput) Params {
	oriented := in.Intrinsic
	if in.Orientation.SwapsAxes() {
		oriented = Size{Width: oriented.Height, Height: oriented.Width}
	}

	factor := sampleSize(oriented, in.Target, in.Policy, in.Surface)
	if in.MinSampleSize > factor {
		factor = in.MinSampleSize
	}

	sampled := Size{
		Width:  max(1, oriented.Width/factor),
		Height: max(1, oriented.Height/factor),
	}
	return Params{
		SampleSize:  factor,
		Orientation: in.Orientation,
		Sampled:     sampled,
		Resize:      resizeStep(sampled, in.Target, in.Policy, in.Surface),
		PixelFormat: in.PixelFormat,
	}
}

func sampleSize(src, target Size, policy ScalePolicy, surface SurfaceMode) int {
	switch policy {
	case ScaleNone:
		return 1
	case ScaleNoneSafe:
		return minSampleSize(src)
	}

	powerOfTwo := policy == ScalePowerOfTwo
	factor := 1
	if target.Bounded() {
		if powerOfTwo {
			// 取最大的 2 的幂，使 intrinsic/factor 仍不小于 target。
			if surface == SurfaceFitInside {
				for src.Width/(factor*2) >= target.Width || src.Height/(factor*2) >= target.Height {
					factor *= 2
				}
			} else {
				for src.Width/(factor*2) >= target.Width && src.Height/(factor*2) >= target.Height {
					factor *= 2
				}
			}
		} else {
			wRatio, hRatio := src.Width/target.Width, src.Height/target.Height
			if surface == SurfaceFitInside {
				factor = max(wRatio, hRatio)
			} else {
				factor = min(wRatio, hRatio)
			}
			factor = max(factor, 1)
		}
	}

	for src.Width/factor > MaxTextureSize || src.Height/factor > MaxTextureSize {
		if powerOfTwo {
			factor *= 2
		} else {
			factor++
		}
	}
	return factor
}

// minSampleSize 是让两边都不超过 MaxTextureSize 的最小整数采样率。
func minSampleSize(src Size) int {
	w := ceilDiv(src.Width, MaxTextureSize)
	h := ceilDiv(src.Height, MaxTextureSize)
	return max(w, h, 1)
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func resizeStep(src, target Size, policy ScalePolicy, surface SurfaceMode) Resize {
	if !policy.Exact() || (target.Width <= 0 && target.Height <= 0) {
		return Resize{}
	}
	stretch := policy == ScaleExactStretch

	if !target.Bounded() {
		// 只约束一个维度时按该维度等比缩放。
		var scale float64
		if target.Width > 0 {
			scale = float64(target.Width) / float64(src.Width)
		} else {
			scale = float64(target.Height) / float64(src.Height)
		}
		return scaled(src, scale, stretch)
	}

	if src == target {
		return Resize{}
	}
	wScale := float64(target.Width) / float64(src.Width)
	hScale := float64(target.Height) / float64(src.Height)
	if surface == SurfaceCrop {
		// 覆盖目标所需的缩放比例大于 1 即意味着放大。
		if math.Max(wScale, hScale) > 1 && !stretch {
			return Resize{}
		}
		return Resize{Kind: ResizeFill, Size: target}
	}
	return scaled(src, math.Min(wScale, hScale), stretch)
}

func scaled(src Size, scale float64, stretch bool) Resize {
	if scale == 1 || (scale > 1 && !stretch) {
		return Resize{}
	}
	out := Size{
		Width:  max(1, int(math.Round(float64(src.Width)*scale))),
		Height: max(1, int(math.Round(float64(src.Height)*scale))),
	}
	if out == src {
		return Resize{}
	}
	return Resize{Kind: ResizeScale, Size: out}
}
