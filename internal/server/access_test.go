package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAccessPolicyCheck(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	policy := NewAccessPolicy([]string{"HTTPS", "file", "cdn"}, []string{root})

	allowed := []string{
		"https://example.com/a.png",
		"cdn://avatars/1.png",
		"FILE://" + filepath.Join(root, "nested", "b.png"),
	}
	for _, locator := range allowed {
		if err := policy.Check(locator); err != nil {
			t.Fatalf("%s should be allowed: %v", locator, err)
		}
	}

	denied := []string{
		"http://example.com/a.png",
		"content://media/1",
		"file://relative/path.png",
		"file://" + filepath.Join(outside, "c.png"),
		"file://" + filepath.Join(root, "link", "c.png"),
		"no-scheme.png",
	}
	for _, locator := range denied {
		if err := policy.Check(locator); !errors.Is(err, ErrLocatorForbidden) {
			t.Fatalf("%s should be rejected, got %v", locator, err)
		}
	}
}

func TestAccessPolicyWithoutRootsRejectsFiles(t *testing.T) {
	policy := NewAccessPolicy([]string{"file"}, nil)
	if err := policy.Check("file:///srv/a.png"); !errors.Is(err, ErrLocatorForbidden) {
		t.Fatalf("file without roots should be rejected, got %v", err)
	}

	var open *AccessPolicy
	if err := open.Check("file:///etc/passwd"); err != nil {
		t.Fatalf("nil policy allows everything, got %v", err)
	}
}
