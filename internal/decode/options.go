package decode

import (
	"fmt"
	"strings"
)

// MaxTextureSize 是单边像素上限，超过时强制提高采样率。
const MaxTextureSize = 2048

// ScalePolicy 决定原始尺寸与目标尺寸如何换算成采样率。
type ScalePolicy int

const (
	// ScaleNone 不缩放。
	ScaleNone ScalePolicy = iota
	// ScaleNoneSafe 仅在超过 MaxTextureSize 时降采样。
	ScaleNoneSafe
	// ScalePowerOfTwo 以 2 的幂降采样，结果不小于目标。
	ScalePowerOfTwo
	// ScaleInteger 以任意整数降采样。
	ScaleInteger
	// ScaleExactCrop 降采样后再精确缩小到目标，不放大。
	ScaleExactCrop
	// ScaleExactStretch 与 ScaleExactCrop 相同，但允许放大。
	ScaleExactStretch
)

var scalePolicyNames = map[ScalePolicy]string{
	ScaleNone:         "none",
	ScaleNoneSafe:     "none_safe",
	ScalePowerOfTwo:   "power_of_two",
	ScaleInteger:      "integer",
	ScaleExactCrop:    "exact_crop",
	ScaleExactStretch: "exact_stretch",
}

func (p ScalePolicy) String() string {
	if name, ok := scalePolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ScalePolicy(%d)", int(p))
}

// Exact 表示该策略包含精确缩放步骤。
func (p ScalePolicy) Exact() bool {
	return p == ScaleExactCrop || p == ScaleExactStretch
}

// ParseScalePolicy 解析配置/查询参数中的策略名（大小写不敏感）。
func ParseScalePolicy(raw string) (ScalePolicy, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for policy, name := range scalePolicyNames {
		if name == normalized {
			return policy, nil
		}
	}
	return ScaleNone, fmt.Errorf("unknown scale policy %q", raw)
}

// SurfaceMode 描述目标表面的填充方式。
type SurfaceMode int

const (
	// SurfaceCrop 覆盖目标区域，超出部分裁掉。
	SurfaceCrop SurfaceMode = iota
	// SurfaceFitInside 完整放入目标区域。
	SurfaceFitInside
)

func (m SurfaceMode) String() string {
	if m == SurfaceFitInside {
		return "fit_inside"
	}
	return "crop"
}

// ParseSurfaceMode 解析 "crop" / "fit_inside"。
func ParseSurfaceMode(raw string) (SurfaceMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "crop":
		return SurfaceCrop, nil
	case "fit_inside", "fit":
		return SurfaceFitInside, nil
	default:
		return SurfaceCrop, fmt.Errorf("unknown surface mode %q", raw)
	}
}

// PixelFormat 是解码结果的像素布局。
type PixelFormat int

const (
	// PixelNRGBA 非预乘 RGBA，8 bit/通道。
	PixelNRGBA PixelFormat = iota
	// PixelRGBA 预乘 RGBA。
	PixelRGBA
	// PixelGray 8 bit 灰度。
	PixelGray
)

func (f PixelFormat) String() string {
	switch f {
	case PixelRGBA:
		return "rgba"
	case PixelGray:
		return "gray"
	default:
		return "nrgba"
	}
}

// ParsePixelFormat 解析 "nrgba" / "rgba" / "gray"。
func ParsePixelFormat(raw string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "nrgba", "":
		return PixelNRGBA, nil
	case "rgba":
		return PixelRGBA, nil
	case "gray":
		return PixelGray, nil
	default:
		return PixelNRGBA, fmt.Errorf("unknown pixel format %q", raw)
	}
}

// Size 是以像素计的宽高；非正值表示该维度不受限。
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Bounded 表示两个维度都受限。
func (s Size) Bounded() bool {
	return s.Width > 0 && s.Height > 0
}

// Orientation 描述解码后需要施加的变换：先水平翻转，再顺时针旋转。
type Orientation struct {
	Rotation       int  `json:"rotation"`
	FlipHorizontal bool `json:"flip_horizontal"`
}

// SwapsAxes 表示旋转后宽高互换。
func (o Orientation) SwapsAxes() bool {
	return o.Rotation == 90 || o.Rotation == 270
}

// Identity 表示无需任何变换。
func (o Orientation) Identity() bool {
	return o.Rotation == 0 && !o.FlipHorizontal
}

// OrientationFromExif 把 EXIF Orientation 标签 (1-8) 映射为旋转 + 翻转。
// 未知值视为 1。
func OrientationFromExif(tag int) Orientation {
	switch tag {
	case 2:
		return Orientation{FlipHorizontal: true}
	case 3:
		return Orientation{Rotation: 180}
	case 4:
		return Orientation{Rotation: 180, FlipHorizontal: true}
	case 5:
		return Orientation{Rotation: 270, FlipHorizontal: true}
	case 6:
		return Orientation{Rotation: 90}
	case 7:
		return Orientation{Rotation: 90, FlipHorizontal: true}
	case 8:
		return Orientation{Rotation: 270}
	default:
		return Orientation{}
	}
}
