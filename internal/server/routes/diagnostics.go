package routes

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/cache"
	"github.com/any-hub/image-hub/internal/server"
)

// CacheAdmin 是诊断接口需要的缓存操作，*loader.Loader 满足该接口。
type CacheAdmin interface {
	Forget(ctx context.Context, locator string) (bool, error)
	Purge(ctx context.Context) error
	MemoryLen() int
}

// DiagnosticsOptions 汇总 /-/ 诊断接口的依赖。
type DiagnosticsOptions struct {
	Logger *logrus.Logger
	Store  cache.Store
	Admin  CacheAdmin
	// Gatherer 为空时不注册 /-/metrics。
	Gatherer prometheus.Gatherer
	// Summary 原样出现在 /-/status 的 config 字段中。
	Summary map[string]any
}

// RegisterDiagnosticsRoutes 暴露 /-/status、/-/cache 与 /-/metrics，供 SRE 查询与清理缓存。
func RegisterDiagnosticsRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Store == nil || opts.Admin == nil {
		return
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		stats, err := opts.Store.Stats(c.Context())
		if err != nil {
			logger.WithFields(logrus.Fields{"action": "cache_stats", "request_id": server.RequestID(c)}).
				WithError(err).Warn("cache stats failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_stats_failed"})
		}
		return c.JSON(statusPayload{
			CacheDirectory: opts.Store.Directory(),
			DiskEntries:    stats.Entries,
			DiskBytes:      stats.Bytes,
			DiskBytesHuman: humanize.IBytes(uint64(max(stats.Bytes, 0))),
			MemoryEntries:  opts.Admin.MemoryLen(),
			Config:         opts.Summary,
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		if err := opts.Admin.Purge(c.Context()); err != nil {
			logger.WithFields(logrus.Fields{"action": "cache_purge", "request_id": server.RequestID(c)}).
				WithError(err).Warn("cache purge failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_purge_failed"})
		}
		logger.WithFields(logrus.Fields{"action": "cache_purge", "request_id": server.RequestID(c)}).Info("cache purged")
		return c.JSON(fiber.Map{"cleared": true})
	})

	app.Delete("/-/cache/entry", func(c fiber.Ctx) error {
		locator := strings.TrimSpace(c.Query("uri"))
		if locator == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "uri_required"})
		}
		removed, err := opts.Admin.Forget(c.Context(), locator)
		if err != nil {
			logger.WithFields(logrus.Fields{"action": "cache_forget", "uri": locator}).
				WithError(err).Warn("cache entry removal failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_remove_failed"})
		}
		return c.JSON(fiber.Map{"uri": locator, "removed": removed})
	})

	if opts.Gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

type statusPayload struct {
	CacheDirectory string         `json:"cache_directory"`
	DiskEntries    int            `json:"disk_entries"`
	DiskBytes      int64          `json:"disk_bytes"`
	DiskBytesHuman string         `json:"disk_bytes_human"`
	MemoryEntries  int            `json:"memory_entries"`
	Config         map[string]any `json:"config,omitempty"`
}
