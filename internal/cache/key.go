package cache

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// KeyFor 返回 locator 对应的缓存文件名：BLAKE3-256 摘要的小写十六进制。
func KeyFor(locator string) string {
	sum := blake3.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:])
}
