package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 以字节计，配置中可写纯数字或 "512MB"、"1GiB" 等人类可读形式。
type ByteSize int64

// UnmarshalText 通过 humanize.ParseBytes 解析字节数。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	if b <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath        string   `mapstructure:"StoragePath"`
	DiskCacheMaxSize   ByteSize `mapstructure:"DiskCacheMaxSize"`
	DiskCacheMaxAge    Duration `mapstructure:"DiskCacheMaxAge"`
	NoMedia            bool     `mapstructure:"NoMedia"`
	MemoryCacheEntries int      `mapstructure:"MemoryCacheEntries"`

	ConnectTimeout Duration `mapstructure:"ConnectTimeout"`
	ReadTimeout    Duration `mapstructure:"ReadTimeout"`
	AllowNetwork   bool     `mapstructure:"AllowNetwork"`
	AssetsPath     string   `mapstructure:"AssetsPath"`
	FFmpegPath     string   `mapstructure:"FFmpegPath"`

	MaxDecodeBytes ByteSize `mapstructure:"MaxDecodeBytes"`
	MaxSourceBytes ByteSize `mapstructure:"MaxSourceBytes"`
	DecodeRetries  int      `mapstructure:"DecodeRetries"`
	DefaultWidth   int      `mapstructure:"DefaultWidth"`
	DefaultHeight  int      `mapstructure:"DefaultHeight"`
	ScaleType      string   `mapstructure:"ScaleType"`
	SurfaceMode    string   `mapstructure:"SurfaceMode"`
	ConsiderExif   bool     `mapstructure:"ConsiderExif"`
	PixelFormat    string   `mapstructure:"PixelFormat"`

	// ServeSchemes 限定 /image 接口可请求的 scheme；file 需同时配置 FileRoots。
	ServeSchemes   []string `mapstructure:"ServeSchemes"`
	FileRoots      []string `mapstructure:"FileRoots"`
	RequestTimeout Duration `mapstructure:"RequestTimeout"`
}

// ProviderConfig 把 content:// 的 authority 映射到本地根目录。
type ProviderConfig struct {
	Authority string `mapstructure:"Authority"`
	Root      string `mapstructure:"Root"`
}

// ResourceConfig 把 drawable:// 的整数 id 映射到 AssetsPath 下的文件。
type ResourceConfig struct {
	ID   int    `mapstructure:"ID"`
	Path string `mapstructure:"Path"`
}

// BucketConfig 把自定义 scheme 绑定到一个 gocloud blob bucket URL。
type BucketConfig struct {
	Scheme string `mapstructure:"Scheme"`
	URL    string `mapstructure:"URL"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Providers []ProviderConfig `mapstructure:"Provider"`
	Resources []ResourceConfig `mapstructure:"Resource"`
	Buckets   []BucketConfig   `mapstructure:"Bucket"`
}

// BucketSchemes 返回所有自定义 scheme 名，供日志字段使用。
func BucketSchemes(buckets []BucketConfig) []string {
	if len(buckets) == 0 {
		return nil
	}
	result := make([]string, len(buckets))
	for i, bucket := range buckets {
		result[i] = bucket.Scheme
	}
	return result
}
