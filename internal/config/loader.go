package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是覆盖全局配置项的环境变量前缀，例如 IMAGE_HUB_LISTENPORT=8080。
const EnvPrefix = "IMAGE_HUB"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectLegacyTables(v); err != nil {
		return nil, err
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	normalizeTables(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage
	if cfg.Global.AssetsPath != "" {
		if cfg.Global.AssetsPath, err = filepath.Abs(cfg.Global.AssetsPath); err != nil {
			return nil, fmt.Errorf("无法解析资源目录: %w", err)
		}
	}
	for i := range cfg.Global.FileRoots {
		if cfg.Global.FileRoots[i], err = filepath.Abs(cfg.Global.FileRoots[i]); err != nil {
			return nil, fmt.Errorf("无法解析 FileRoots: %w", err)
		}
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].Root, err = filepath.Abs(cfg.Providers[i].Root); err != nil {
			return nil, fmt.Errorf("无法解析 Provider 目录: %w", err)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("DiskCacheMaxSize", 0)
	v.SetDefault("DiskCacheMaxAge", 0)
	v.SetDefault("NoMedia", false)
	v.SetDefault("MemoryCacheEntries", 128)
	v.SetDefault("ConnectTimeout", "5s")
	v.SetDefault("ReadTimeout", "20s")
	v.SetDefault("AllowNetwork", true)
	v.SetDefault("AssetsPath", "")
	v.SetDefault("FFmpegPath", "ffmpeg")
	v.SetDefault("MaxDecodeBytes", "64MiB")
	v.SetDefault("MaxSourceBytes", "256MiB")
	v.SetDefault("DecodeRetries", 2)
	v.SetDefault("DefaultWidth", 0)
	v.SetDefault("DefaultHeight", 0)
	v.SetDefault("ScaleType", "power_of_two")
	v.SetDefault("SurfaceMode", "crop")
	v.SetDefault("ConsiderExif", true)
	v.SetDefault("PixelFormat", "nrgba")
	v.SetDefault("ServeSchemes", []string{"http", "https", "content", "assets", "drawable"})
	v.SetDefault("FileRoots", []string{})
	v.SetDefault("RequestTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.ConnectTimeout.DurationValue() == 0 {
		g.ConnectTimeout = Duration(5 * time.Second)
	}
	if g.ReadTimeout.DurationValue() == 0 {
		g.ReadTimeout = Duration(20 * time.Second)
	}
	if g.MemoryCacheEntries == 0 {
		g.MemoryCacheEntries = 128
	}
	if g.MaxDecodeBytes == 0 {
		g.MaxDecodeBytes = 64 << 20
	}
	if g.MaxSourceBytes == 0 {
		g.MaxSourceBytes = 256 << 20
	}
	if g.RequestTimeout.DurationValue() == 0 {
		g.RequestTimeout = Duration(30 * time.Second)
	}
	for i := range g.ServeSchemes {
		g.ServeSchemes[i] = strings.ToLower(strings.TrimSpace(g.ServeSchemes[i]))
	}
	g.ScaleType = strings.ToLower(strings.TrimSpace(g.ScaleType))
	g.SurfaceMode = strings.ToLower(strings.TrimSpace(g.SurfaceMode))
	g.PixelFormat = strings.ToLower(strings.TrimSpace(g.PixelFormat))
}

func normalizeTables(cfg *Config) {
	for i := range cfg.Providers {
		cfg.Providers[i].Authority = strings.ToLower(strings.TrimSpace(cfg.Providers[i].Authority))
	}
	for i := range cfg.Buckets {
		cfg.Buckets[i].Scheme = strings.ToLower(strings.TrimSpace(cfg.Buckets[i].Scheme))
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析字节大小字段: %s", v)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的字节大小类型: %T", v)
		}
	}
}

// rejectLegacyTables 拒绝旧版代理配置中的 [[Hub]] 表，避免被静默忽略。
func rejectLegacyTables(v *viper.Viper) error {
	raw := v.Get("Hub")
	if raw == nil {
		return nil
	}
	if hubs, ok := raw.([]interface{}); ok && len(hubs) == 0 {
		return nil
	}
	return newFieldError("Hub", "不再支持，请改用 [[Provider]] / [[Resource]] / [[Bucket]]")
}
