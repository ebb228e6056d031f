package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/config"
)

func TestPipelineServesLocalFileThroughCaches(t *testing.T) {
	env := newPipelineEnv(t, false)
	photo := filepath.Join(env.photos, "photo.png")
	writePNG(t, photo, 64, 32)
	target := "/image?w=16&h=8&uri=" + url.QueryEscape("file://"+photo)

	resp := env.get(t, target)
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Image-Hub-Source"); got != "network" {
		t.Fatalf("first load should come from the source, got %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	decoded, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("expected 16x8 after power-of-two sampling, got %v", b)
	}

	resp = env.get(t, target)
	if got := resp.Header.Get("X-Image-Hub-Source"); got != "memory" {
		t.Fatalf("second load should hit memory, got %q", got)
	}

	stats, err := env.pipeline.store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("expected one disk entry, got %d", stats.Entries)
	}
}

func TestPipelineDeniesNetworkWhenDisabled(t *testing.T) {
	env := newPipelineEnv(t, false)
	resp := env.get(t, "/image?uri="+url.QueryEscape("http://example.invalid/a.png"))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 network_denied, got %d", resp.StatusCode)
	}
}

func TestPipelineRejectsFilesOutsideRoots(t *testing.T) {
	env := newPipelineEnv(t, false)
	outside := filepath.Join(t.TempDir(), "secret.png")
	writePNG(t, outside, 4, 4)

	resp := env.get(t, "/image?uri="+url.QueryEscape("file://"+outside))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 for a file outside FileRoots, got %d", resp.StatusCode)
	}
	stats, err := env.pipeline.store.Stats(context.Background())
	if err != nil || stats.Entries != 0 {
		t.Fatalf("rejected request must not touch the cache: %+v %v", stats, err)
	}
}

func TestPipelineDiagnostics(t *testing.T) {
	env := newPipelineEnv(t, true)
	photo := filepath.Join(env.photos, "photo.png")
	writePNG(t, photo, 8, 8)
	if resp := env.get(t, "/image?uri="+url.QueryEscape("file://"+photo)); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp := env.get(t, "/-/metrics")
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`image_hub_loader_requests_total{result="completed"} 1`)) {
		t.Fatalf("metrics should record the completed load, got %s", body)
	}

	req := httptest.NewRequest("DELETE", "/-/cache", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected purge to succeed, got %d", resp.StatusCode)
	}
	if env.pipeline.loader.MemoryLen() != 0 {
		t.Fatalf("purge should empty the memory cache")
	}
	stats, err := env.pipeline.store.Stats(context.Background())
	if err != nil || stats.Entries != 0 {
		t.Fatalf("purge should empty the disk cache: %+v %v", stats, err)
	}
}

func TestPipelineNetworkFetchUsesDiskCache(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, img)
	}))
	defer upstream.Close()

	env := newPipelineEnv(t, true)
	locator := url.QueryEscape(upstream.URL + "/avatar.png")

	if resp := env.get(t, "/image?w=20&h=20&uri="+locator); resp.Header.Get("X-Image-Hub-Source") != "network" {
		t.Fatalf("first load should hit the network, got %q", resp.Header.Get("X-Image-Hub-Source"))
	}
	// 不同目标尺寸绕过内存缓存，但复用磁盘上的原始字节。
	if resp := env.get(t, "/image?w=10&h=10&uri="+locator); resp.Header.Get("X-Image-Hub-Source") != "disk" {
		t.Fatalf("second size should come from disk, got %q", resp.Header.Get("X-Image-Hub-Source"))
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single upstream hit, got %d", hits.Load())
	}

	resp, err := env.app.Test(httptest.NewRequest("DELETE", "/-/cache/entry?uri="+locator, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"removed":true`)) {
		t.Fatalf("expected entry removal, got %s", body)
	}

	if resp := env.get(t, "/image?w=20&h=20&uri="+locator); resp.Header.Get("X-Image-Hub-Source") != "network" {
		t.Fatalf("forgotten locator should be fetched again, got %q", resp.Header.Get("X-Image-Hub-Source"))
	}
	if hits.Load() != 2 {
		t.Fatalf("expected two upstream hits, got %d", hits.Load())
	}
}

type pipelineEnv struct {
	app      *fiber.App
	pipeline *pipeline
	photos   string
}

func newPipelineEnv(t *testing.T, allowNetwork bool) *pipelineEnv {
	t.Helper()

	dir := t.TempDir()
	photos := filepath.Join(dir, "photos")
	if err := os.MkdirAll(photos, 0o755); err != nil {
		t.Fatalf("mkdir photos: %v", err)
	}
	configPath := writeConfigFile(t, fmt.Sprintf(`
ListenPort = 5000
StoragePath = %q
AllowNetwork = %t
ScaleType = "power_of_two"
ServeSchemes = ["http", "https", "file"]
FileRoots = [%q]
`, filepath.Join(dir, "storage"), allowNetwork, photos))

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	rt, err := config.BuildRuntime(cfg)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	p, err := buildPipeline(context.Background(), cfg, rt, logger)
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	app, err := newHTTPApp(cfg, p, logger)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	return &pipelineEnv{app: app, pipeline: p, photos: photos}
}

func (e *pipelineEnv) get(t *testing.T, target string) *http.Response {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest("GET", target, nil))
	if err != nil {
		t.Fatalf("app.Test(%s) failed: %v", target, err)
	}
	return resp
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}
