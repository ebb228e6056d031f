package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/cache"
)

func TestStatusReportsCacheUsage(t *testing.T) {
	env := newDiagnosticsEnv(t)
	if _, err := env.store.Put(context.Background(), "http://example.com/a.png", strings.NewReader("0123456789"), cache.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	env.admin.memory = 3

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.DiskEntries != 1 || payload.DiskBytes != 10 {
		t.Fatalf("unexpected disk usage: %+v", payload)
	}
	if payload.MemoryEntries != 3 {
		t.Fatalf("expected 3 memory entries, got %d", payload.MemoryEntries)
	}
	if payload.CacheDirectory != env.store.Directory() {
		t.Fatalf("unexpected cache directory %s", payload.CacheDirectory)
	}
	if payload.Config["scale_type"] != "power_of_two" {
		t.Fatalf("expected config summary, got %v", payload.Config)
	}
}

func TestDeleteCacheEntry(t *testing.T) {
	env := newDiagnosticsEnv(t)

	resp, err := env.app.Test(httptest.NewRequest("DELETE", "/-/cache/entry?uri=http://example.com/a.png", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !bytes.Contains(body, []byte(`"removed":true`)) {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	if len(env.admin.forgotten) != 1 || env.admin.forgotten[0] != "http://example.com/a.png" {
		t.Fatalf("unexpected forget calls %v", env.admin.forgotten)
	}

	resp, err = env.app.Test(httptest.NewRequest("DELETE", "/-/cache/entry", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing uri should be rejected, got %d", resp.StatusCode)
	}
}

func TestDeleteCachePurges(t *testing.T) {
	env := newDiagnosticsEnv(t)

	resp, err := env.app.Test(httptest.NewRequest("DELETE", "/-/cache", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK || env.admin.purges != 1 {
		t.Fatalf("expected one purge, status=%d purges=%d", resp.StatusCode, env.admin.purges)
	}

	env.admin.purgeErr = errors.New("disk gone")
	resp, err = env.app.Test(httptest.NewRequest("DELETE", "/-/cache", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("purge failure should surface as 500, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newDiagnosticsEnv(t)
	env.counter.Inc()

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("image_hub_test_total 1")) {
		t.Fatalf("expected exposition to contain test counter, got %s", body)
	}
}

type diagnosticsEnv struct {
	app     *fiber.App
	store   cache.Store
	admin   *fakeAdmin
	counter prometheus.Counter
}

func newDiagnosticsEnv(t *testing.T) *diagnosticsEnv {
	t.Helper()

	store, err := cache.NewStore(t.TempDir(), cache.Options{})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "image_hub_test_total", Help: "test counter"})
	registry.MustRegister(counter)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	admin := &fakeAdmin{}
	app := fiber.New()
	RegisterDiagnosticsRoutes(app, DiagnosticsOptions{
		Logger:   logger,
		Store:    store,
		Admin:    admin,
		Gatherer: registry,
		Summary:  map[string]any{"scale_type": "power_of_two"},
	})
	return &diagnosticsEnv{app: app, store: store, admin: admin, counter: counter}
}

type fakeAdmin struct {
	memory    int
	purges    int
	purgeErr  error
	forgotten []string
}

func (f *fakeAdmin) Forget(_ context.Context, locator string) (bool, error) {
	f.forgotten = append(f.forgotten, locator)
	return true, nil
}

func (f *fakeAdmin) Purge(context.Context) error {
	if f.purgeErr != nil {
		return f.purgeErr
	}
	f.purges++
	return nil
}

func (f *fakeAdmin) MemoryLen() int {
	return f.memory
}
