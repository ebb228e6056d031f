package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"

	"github.com/any-hub/image-hub/internal/decode"
	"github.com/any-hub/image-hub/internal/failure"
	"github.com/any-hub/image-hub/internal/loader"
	"github.com/any-hub/image-hub/internal/logging"
	"github.com/any-hub/image-hub/internal/scheme"
)

// StatusClientClosedRequest 沿用 nginx 的 499，表示请求在完成前被取消。
const StatusClientClosedRequest = 499

const jpegQuality = 90

type imageHandler struct {
	logger   *logrus.Logger
	loader   ImageLoader
	defaults loader.DisplayOptions
	access   *AccessPolicy
	timeout  time.Duration
}

// Handle 处理 GET /image?uri=&w=&h=&scale=&surface=&exif=&format=。
func (h *imageHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	locator := strings.TrimSpace(c.Query("uri"))
	if locator == "" {
		return renderBadRequest(c, "uri_required")
	}
	opts, format, code := h.displayOptions(c)
	if code != "" {
		return renderBadRequest(c, code)
	}
	fields := logging.RequestFields(requestID, locator, scheme.Of(locator).String(), "")
	if err := h.access.Check(locator); err != nil {
		fields["status"] = fiber.StatusForbidden
		h.logger.WithFields(fields).WithError(err).Warn("image request rejected")
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "locator_forbidden"})
	}

	// fasthttp 不会在客户端断开时取消 c.Context()，由 timeout 兜底。
	ctx := c.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	img, err := h.loader.LoadSync(ctx, locator, opts)
	if err != nil {
		status, reason := statusForError(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status, reason = fiber.StatusGatewayTimeout, "timeout"
		}
		fields["status"] = status
		fields["reason"] = reason
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		h.logger.WithFields(fields).WithError(err).Warn("image request failed")
		return c.Status(status).JSON(fiber.Map{"error": reason})
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	contentType, err := encodeImage(buf, img.Image, format)
	if err != nil {
		h.logger.WithFields(fields).WithError(err).Error("image encode failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "encode_failed"})
	}

	fields["source"] = string(img.Source)
	fields["status"] = fiber.StatusOK
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	for k, v := range logging.SizeFields("bytes", int64(buf.Len())) {
		fields[k] = v
	}
	h.logger.WithFields(fields).Info("image served")

	bounds := img.Image.Bounds()
	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Image-Hub-Source", string(img.Source))
	c.Set("X-Image-Hub-Size", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()))
	c.Set("X-Image-Hub-Sample-Size", strconv.Itoa(img.Params.SampleSize))
	c.Status(fiber.StatusOK)
	// SetBody 会复制数据，buf 随后可以归还池中。
	c.Response().SetBody(buf.B)
	return nil
}

// displayOptions 在默认选项上叠加查询参数，返回非空 code 表示参数非法。
func (h *imageHandler) displayOptions(c fiber.Ctx) (loader.DisplayOptions, string, string) {
	opts := h.defaults
	if raw := c.Query("w"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || width < 0 {
			return opts, "", "invalid_width"
		}
		opts.Target.Width = width
	}
	if raw := c.Query("h"); raw != "" {
		height, err := strconv.Atoi(raw)
		if err != nil || height < 0 {
			return opts, "", "invalid_height"
		}
		opts.Target.Height = height
	}
	if raw := c.Query("scale"); raw != "" {
		policy, err := decode.ParseScalePolicy(raw)
		if err != nil {
			return opts, "", "invalid_scale"
		}
		opts.ScalePolicy = policy
	}
	if raw := c.Query("surface"); raw != "" {
		surface, err := decode.ParseSurfaceMode(raw)
		if err != nil {
			return opts, "", "invalid_surface"
		}
		opts.Surface = surface
	}
	if raw := c.Query("exif"); raw != "" {
		considerExif, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, "", "invalid_exif"
		}
		opts.ConsiderExif = considerExif
	}
	format := strings.ToLower(c.Query("format", "png"))
	switch format {
	case "png", "jpeg":
	case "jpg":
		format = "jpeg"
	default:
		return opts, "", "invalid_format"
	}
	return opts, format, ""
}

func encodeImage(w io.Writer, img image.Image, format string) (string, error) {
	if format == "jpeg" {
		return "image/jpeg", jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	}
	return "image/png", png.Encode(w, img)
}

// statusForError 把加载失败映射为 HTTP 状态码与错误码。
func statusForError(err error) (int, string) {
	var reason *failure.Reason
	if !errors.As(err, &reason) {
		if errors.Is(err, context.DeadlineExceeded) {
			return fiber.StatusGatewayTimeout, "timeout"
		}
		if errors.Is(err, context.Canceled) {
			return StatusClientClosedRequest, "cancelled"
		}
		reason = failure.Classify(err)
	}
	switch reason.Kind {
	case failure.KindIO:
		return fiber.StatusBadGateway, string(reason.Kind)
	case failure.KindDecoding:
		return fiber.StatusUnprocessableEntity, string(reason.Kind)
	case failure.KindNetworkDenied:
		return fiber.StatusForbidden, string(reason.Kind)
	case failure.KindOutOfMemory:
		return fiber.StatusInsufficientStorage, string(reason.Kind)
	default:
		return fiber.StatusInternalServerError, string(failure.KindUnknown)
	}
}

func renderBadRequest(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
}
