package decode

import (
	"io"

	"github.com/rwcarlsen/goexif/exif"
)

// readOrientation 从 JPEG 的 APP1 段读取 Orientation 标签；没有 EXIF 或标签缺失时返回无变换。
func readOrientation(r io.Reader) (Orientation, error) {
	x, err := exif.Decode(r)
	if err != nil {
		if exif.IsCriticalError(err) {
			return Orientation{}, err
		}
	}
	if x == nil {
		return Orientation{}, nil
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return Orientation{}, nil
	}
	value, err := tag.Int(0)
	if err != nil {
		return Orientation{}, nil
	}
	return OrientationFromExif(value), nil
}
