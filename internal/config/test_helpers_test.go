package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 写入临时 TOML；未声明 StoragePath 时指向同一临时目录下的 storage。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if !strings.Contains(content, "StoragePath") {
		content = fmt.Sprintf("StoragePath = %q\n%s", filepath.Join(dir, "storage"), content)
	}
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// mustLoad 写入并加载配置，失败时终止测试。
func mustLoad(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	return cfg
}
