package loader

import (
	"fmt"
	"image"

	"github.com/any-hub/image-hub/internal/decode"
)

// Source 标识结果来自哪一层。
type Source string

const (
	SourceMemory  Source = "memory"
	SourceDisk    Source = "disk"
	SourceNetwork Source = "network"
)

// DisplayOptions 描述调用方希望得到的图像形态及缓存行为。
type DisplayOptions struct {
	Target       decode.Size
	ScalePolicy  decode.ScalePolicy
	Surface      decode.SurfaceMode
	ConsiderExif bool
	PixelFormat  decode.PixelFormat
	// Extra 原样传给 fetch 策略，例如 fetch.NetworkExtra。
	Extra         any
	CacheInMemory bool
	CacheOnDisk   bool
}

// DefaultDisplayOptions 开启两级缓存，按 2 的幂降采样。
func DefaultDisplayOptions() DisplayOptions {
	return DisplayOptions{
		ScalePolicy:   decode.ScalePowerOfTwo,
		CacheInMemory: true,
		CacheOnDisk:   true,
	}
}

// Image 是一次成功加载的结果。
type Image struct {
	Key       string
	Locator   string
	Image     image.Image
	Format    string
	Source    Source
	Intrinsic decode.Size
	Params    decode.Params
}

// MemoryKey 生成内存缓存键：locator_WxH。
func MemoryKey(locator string, target decode.Size) string {
	return fmt.Sprintf("%s_%dx%d", locator, target.Width, target.Height)
}
