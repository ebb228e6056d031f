package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/cache"
	"github.com/any-hub/image-hub/internal/config"
	"github.com/any-hub/image-hub/internal/decode"
	"github.com/any-hub/image-hub/internal/fetch"
	"github.com/any-hub/image-hub/internal/loader"
)

// pipeline 持有进程内共享的缓存、抓取器与 Loader。
type pipeline struct {
	store    cache.Store
	buckets  *fetch.BucketStrategy
	loader   *loader.Loader
	registry *prometheus.Registry
	defaults loader.DisplayOptions
}

// buildPipeline 根据配置装配 fetch → cache → decode → loader。
func buildPipeline(ctx context.Context, cfg *config.Config, rt config.Runtime, logger *logrus.Logger) (*pipeline, error) {
	g := cfg.Global

	store, err := cache.NewStore(g.StoragePath, cache.Options{
		MaxAge:  g.DiskCacheMaxAge.DurationValue(),
		MaxSize: g.DiskCacheMaxSize.Int64(),
		NoMedia: g.NoMedia,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	var buckets *fetch.BucketStrategy
	if len(rt.BucketURLs) > 0 {
		buckets, err = fetch.OpenBuckets(ctx, rt.BucketURLs)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("打开 bucket 失败: %w", err)
		}
	}

	fetchOpts := fetch.Options{
		ConnectTimeout: g.ConnectTimeout.DurationValue(),
		ReadTimeout:    g.ReadTimeout.DurationValue(),
		Thumbnailer:    fetch.FFmpegThumbnailer{Binary: g.FFmpegPath},
		ResourceTable:  rt.Resources,
	}
	if len(rt.ProviderRoots) > 0 {
		resolver := fetch.NewDirResolver(rt.ProviderRoots)
		fetchOpts.Resolver = resolver
		fetchOpts.Contacts = resolver
	}
	if g.AssetsPath != "" {
		assets := os.DirFS(g.AssetsPath)
		fetchOpts.Assets = assets
		fetchOpts.Resources = assets
	}
	if buckets != nil {
		fetchOpts.Fallback = buckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	l, err := loader.New(loader.Options{
		Fetcher: fetch.New(fetchOpts),
		Cache:   store,
		Decoder: decode.NewDecoder(decode.DecoderOptions{
			MaxDecodeBytes: g.MaxDecodeBytes.Int64(),
			MaxSourceBytes: g.MaxSourceBytes.Int64(),
			Logger:         logger,
		}),
		MemoryEntries: g.MemoryCacheEntries,
		AllowNetwork:  g.AllowNetwork,
		DecodeRetries: g.DecodeRetries,
		Logger:        logger,
		Registerer:    registry,
	})
	if err != nil {
		_ = store.Close()
		if buckets != nil {
			_ = buckets.Close()
		}
		return nil, err
	}

	defaults := loader.DefaultDisplayOptions()
	defaults.Target = rt.DefaultTarget
	defaults.ScalePolicy = rt.Policy
	defaults.Surface = rt.Surface
	defaults.PixelFormat = rt.PixelFormat
	defaults.ConsiderExif = g.ConsiderExif

	return &pipeline{
		store:    store,
		buckets:  buckets,
		loader:   l,
		registry: registry,
		defaults: defaults,
	}, nil
}

// Close 释放 bucket 连接并关闭缓存。
func (p *pipeline) Close() error {
	var errs []error
	if p.buckets != nil {
		errs = append(errs, p.buckets.Close())
	}
	errs = append(errs, p.store.Close())
	return errors.Join(errs...)
}

// configSummary 是 /-/status 中展示的配置摘要。
func configSummary(cfg *config.Config) map[string]any {
	g := cfg.Global
	return map[string]any{
		"listen_port":          g.ListenPort,
		"allow_network":        g.AllowNetwork,
		"disk_cache_max_size":  g.DiskCacheMaxSize.String(),
		"disk_cache_max_age":   g.DiskCacheMaxAge.DurationValue().String(),
		"memory_cache_entries": g.MemoryCacheEntries,
		"max_decode_bytes":     g.MaxDecodeBytes.String(),
		"max_source_bytes":     g.MaxSourceBytes.String(),
		"serve_schemes":        g.ServeSchemes,
		"request_timeout":      g.RequestTimeout.DurationValue().String(),
		"decode_retries":       g.DecodeRetries,
		"scale_type":           g.ScaleType,
		"surface_mode":         g.SurfaceMode,
		"pixel_format":         g.PixelFormat,
		"consider_exif":        g.ConsiderExif,
		"buckets":              config.BucketSchemes(cfg.Buckets),
	}
}
