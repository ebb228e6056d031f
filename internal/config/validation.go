package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/image-hub/internal/decode"
	"github.com/any-hub/image-hub/internal/scheme"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.DiskCacheMaxSize < 0 {
		return newFieldError("Global.DiskCacheMaxSize", "不能为负数")
	}
	if g.DiskCacheMaxAge.DurationValue() < 0 {
		return newFieldError("Global.DiskCacheMaxAge", "不能为负数")
	}
	if g.MemoryCacheEntries <= 0 {
		return newFieldError("Global.MemoryCacheEntries", "必须大于 0")
	}
	if g.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ConnectTimeout", "必须大于 0")
	}
	if g.ReadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ReadTimeout", "必须大于 0")
	}
	if g.MaxDecodeBytes <= 0 {
		return newFieldError("Global.MaxDecodeBytes", "必须大于 0")
	}
	if g.MaxSourceBytes < 0 {
		return newFieldError("Global.MaxSourceBytes", "不能为负数")
	}
	if g.RequestTimeout.DurationValue() < 0 {
		return newFieldError("Global.RequestTimeout", "不能为负数")
	}
	if g.DecodeRetries < 0 {
		return newFieldError("Global.DecodeRetries", "不能为负数")
	}
	if g.DefaultWidth < 0 || g.DefaultHeight < 0 {
		return newFieldError("Global.DefaultWidth/DefaultHeight", "不能为负数")
	}
	if _, err := decode.ParseScalePolicy(g.ScaleType); err != nil {
		return newFieldError("Global.ScaleType", "仅支持 none|none_safe|power_of_two|integer|exact_crop|exact_stretch")
	}
	if _, err := decode.ParseSurfaceMode(g.SurfaceMode); err != nil {
		return newFieldError("Global.SurfaceMode", "仅支持 crop|fit_inside")
	}
	if _, err := decode.ParsePixelFormat(g.PixelFormat); err != nil {
		return newFieldError("Global.PixelFormat", "仅支持 nrgba|rgba|gray")
	}

	if err := c.validateServeSchemes(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateResources(); err != nil {
		return err
	}
	return c.validateBuckets()
}

func (c *Config) validateServeSchemes() error {
	buckets := make(map[string]struct{}, len(c.Buckets))
	for _, bucket := range c.Buckets {
		buckets[bucket.Scheme] = struct{}{}
	}
	fileServed := false
	for _, name := range c.Global.ServeSchemes {
		if name == "" {
			return newFieldError("Global.ServeSchemes", "不能包含空值")
		}
		if name == scheme.File.String() {
			fileServed = true
		}
		if scheme.Of(name+"://") != scheme.Unknown {
			continue
		}
		if _, ok := buckets[name]; !ok {
			return newFieldError("Global.ServeSchemes", fmt.Sprintf("未知 scheme %q", name))
		}
	}
	if fileServed && len(c.Global.FileRoots) == 0 {
		return newFieldError("Global.FileRoots", "ServeSchemes 包含 file 时不能为空")
	}
	for _, root := range c.Global.FileRoots {
		if strings.TrimSpace(root) == "" {
			return newFieldError("Global.FileRoots", "不能包含空值")
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	seen := map[string]struct{}{}
	for _, provider := range c.Providers {
		if provider.Authority == "" {
			return newFieldError("Provider[].Authority", "不能为空")
		}
		if strings.ContainsAny(provider.Authority, "/ ") {
			return newFieldError(tableField("Provider", provider.Authority, "Authority"), "不允许包含路径或空格")
		}
		if _, exists := seen[provider.Authority]; exists {
			return newFieldError(tableField("Provider", provider.Authority, "Authority"), "重复")
		}
		seen[provider.Authority] = struct{}{}
		if provider.Root == "" {
			return newFieldError(tableField("Provider", provider.Authority, "Root"), "不能为空")
		}
	}
	return nil
}

func (c *Config) validateResources() error {
	seen := map[int]struct{}{}
	for _, resource := range c.Resources {
		name := strconv.Itoa(resource.ID)
		if resource.ID < 0 {
			return newFieldError(tableField("Resource", name, "ID"), "不能为负数")
		}
		if _, exists := seen[resource.ID]; exists {
			return newFieldError(tableField("Resource", name, "ID"), "重复")
		}
		seen[resource.ID] = struct{}{}
		if strings.TrimSpace(resource.Path) == "" {
			return newFieldError(tableField("Resource", name, "Path"), "不能为空")
		}
	}
	if len(c.Resources) > 0 && c.Global.AssetsPath == "" {
		return newFieldError("Global.AssetsPath", "配置 [[Resource]] 时不能为空")
	}
	return nil
}

func (c *Config) validateBuckets() error {
	seen := map[string]struct{}{}
	for _, bucket := range c.Buckets {
		if bucket.Scheme == "" {
			return newFieldError("Bucket[].Scheme", "不能为空")
		}
		if strings.Contains(bucket.Scheme, ":") || strings.Contains(bucket.Scheme, "/") {
			return newFieldError(tableField("Bucket", bucket.Scheme, "Scheme"), "只填写 scheme 名，例如 cdn")
		}
		if scheme.Of(bucket.Scheme+"://") != scheme.Unknown {
			return newFieldError(tableField("Bucket", bucket.Scheme, "Scheme"), "不能覆盖内置 scheme")
		}
		if _, exists := seen[bucket.Scheme]; exists {
			return newFieldError(tableField("Bucket", bucket.Scheme, "Scheme"), "重复")
		}
		seen[bucket.Scheme] = struct{}{}
		if err := validateBucketURL(bucket.URL); err != nil {
			return fmt.Errorf("%s: %w", tableField("Bucket", bucket.Scheme, "URL"), err)
		}
	}
	return nil
}

func validateBucketURL(raw string) error {
	if raw == "" {
		return errors.New("缺少 bucket 地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("bucket 地址缺少协议，例如 file:///srv/images: %s", raw)
	}
	return nil
}
