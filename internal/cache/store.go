package cache

import (
	"context"
	"errors"
	"image"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<blake3(locator)>    # 缓存正文
//	<StoragePath>/.nomedia             # 可选的媒体扫描屏蔽标记
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Directory 返回缓存根目录的绝对路径。
	Directory() string

	// Lookup 返回条目信息但不打开文件。若不存在或已过期则返回 ErrNotFound。
	Lookup(ctx context.Context, locator string) (*Entry, error)

	// Open 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Open(ctx context.Context, locator string) (*ReadResult, error)

	// Put 将字节流写入缓存，并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败或取消时清理临时文件。
	Put(ctx context.Context, locator string, body io.Reader, opts PutOptions) (*Entry, error)

	// PutImage 把已解码图像编码为 PNG 后写入缓存。
	PutImage(ctx context.Context, locator string, img image.Image, opts PutOptions) (*Entry, error)

	// Remove 删除条目；返回值表示删除前条目是否存在。
	Remove(ctx context.Context, locator string) (bool, error)

	// Clear 删除全部条目，点文件（.nomedia、进行中的临时文件）保留。
	Clear(ctx context.Context) error

	// Stats 统计当前条目数与总字节数。
	Stats(ctx context.Context) (Stats, error)

	// Close 之后所有操作返回 ErrClosed。
	Close() error
}

// ProgressFunc 在每次写入一个分块后调用，total 未知时为 -1；返回 false 中止写入。
type ProgressFunc func(written, total int64) bool

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime  time.Time
	Length   int64
	Progress ProgressFunc
}

// Options 配置缓存的淘汰策略。
type Options struct {
	// MaxAge > 0 时，超过该时长的条目在 Lookup/Open 时视为不存在并被删除。
	MaxAge time.Duration
	// MaxSize > 0 时，每次 Put 之后按 ModTime 从旧到新淘汰，直到总大小不超过该值。
	MaxSize int64
	// NoMedia 为 true 时在根目录写入 .nomedia 标记。
	NoMedia bool
	// Logger 记录淘汰与清理动作，为空时丢弃日志。
	Logger logrus.FieldLogger
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   string    `json:"locator"`
	Key       string    `json:"key"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// Stats 汇总缓存目录状态。
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// NoMediaFile 是媒体扫描屏蔽标记的文件名。
const NoMediaFile = ".nomedia"

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrClosed 表示缓存已关闭。
	ErrClosed = errors.New("cache store closed")
	// ErrAborted 表示写入被 Progress 回调中止。
	ErrAborted = errors.New("cache write aborted")
)
