package config

import (
	"github.com/any-hub/image-hub/internal/decode"
	"github.com/any-hub/image-hub/internal/fetch"
)

// Runtime 是从配置派生出的强类型参数，供装配流水线时直接取用。
type Runtime struct {
	Policy        decode.ScalePolicy
	Surface       decode.SurfaceMode
	PixelFormat   decode.PixelFormat
	DefaultTarget decode.Size
	ProviderRoots map[string]string
	Resources     fetch.ResourceTable
	BucketURLs    map[string]string
}

// BuildRuntime 解析枚举字段与表配置（假定 Validate 已经通过）。
func BuildRuntime(cfg *Config) (Runtime, error) {
	g := cfg.Global
	policy, err := decode.ParseScalePolicy(g.ScaleType)
	if err != nil {
		return Runtime{}, newFieldError("Global.ScaleType", err.Error())
	}
	surface, err := decode.ParseSurfaceMode(g.SurfaceMode)
	if err != nil {
		return Runtime{}, newFieldError("Global.SurfaceMode", err.Error())
	}
	format, err := decode.ParsePixelFormat(g.PixelFormat)
	if err != nil {
		return Runtime{}, newFieldError("Global.PixelFormat", err.Error())
	}

	rt := Runtime{
		Policy:        policy,
		Surface:       surface,
		PixelFormat:   format,
		DefaultTarget: decode.Size{Width: g.DefaultWidth, Height: g.DefaultHeight},
		ProviderRoots: make(map[string]string, len(cfg.Providers)),
		Resources:     make(fetch.ResourceTable, len(cfg.Resources)),
		BucketURLs:    make(map[string]string, len(cfg.Buckets)),
	}
	for _, provider := range cfg.Providers {
		rt.ProviderRoots[provider.Authority] = provider.Root
	}
	for _, resource := range cfg.Resources {
		rt.Resources[resource.ID] = resource.Path
	}
	for _, bucket := range cfg.Buckets {
		rt.BucketURLs[bucket.Scheme] = bucket.URL
	}
	return rt, nil
}
