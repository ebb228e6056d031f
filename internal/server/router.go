package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/loader"
)

// ImageLoader describes the component that turns a locator into a decoded
// image. It allows injecting fake loaders during tests.
type ImageLoader interface {
	LoadSync(ctx context.Context, locator string, opts loader.DisplayOptions) (*loader.Image, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	Loader ImageLoader
	// Defaults 是请求未显式给出参数时使用的显示选项。
	Defaults   loader.DisplayOptions
	ListenPort int
	// Access 为 nil 时不限制 locator。
	Access *AccessPolicy
	// RequestTimeout 限制单个 /image 请求的加载时长，<=0 表示不限制。
	RequestTimeout time.Duration
}

const contextKeyRequestID = "_imagehub_request_id"

// NewApp builds a Fiber application with request-id middleware and the
// /image endpoint.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("image loader is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	handler := &imageHandler{
		logger:   opts.Logger,
		loader:   opts.Loader,
		defaults: opts.Defaults,
		access:   opts.Access,
		timeout:  opts.RequestTimeout,
	}
	app.Get("/image", handler.Handle)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
