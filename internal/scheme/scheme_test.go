package scheme

import "testing"

func TestResolveKnownPrefixes(t *testing.T) {
	testCases := []struct {
		locator  string
		scheme   Scheme
		residual string
	}{
		{"http://example.com/a.png", HTTP, "example.com/a.png"},
		{"https://example.com/a.png", HTTPS, "example.com/a.png"},
		{"file:///a/b.png", File, "/a/b.png"},
		{"content://media/external/images/1", Content, "media/external/images/1"},
		{"assets://icons/logo.png", Assets, "icons/logo.png"},
		{"drawable://2130837504", Drawable, "2130837504"},
		{"HTTPS://EXAMPLE.com/x", HTTPS, "EXAMPLE.com/x"},
		{"ftp://example.com/a.png", Unknown, "ftp://example.com/a.png"},
		{"", Unknown, ""},
		{"/plain/path.png", Unknown, "/plain/path.png"},
	}

	for _, tc := range testCases {
		t.Run(tc.locator, func(t *testing.T) {
			ref := Resolve(tc.locator)
			if ref.Scheme != tc.scheme {
				t.Fatalf("expected scheme %s, got %s", tc.scheme, ref.Scheme)
			}
			if ref.Residual != tc.residual {
				t.Fatalf("expected residual %q, got %q", tc.residual, ref.Residual)
			}
		})
	}
}

func TestResourceID(t *testing.T) {
	id, err := Resolve("drawable://42").ResourceID()
	if err != nil || id != 42 {
		t.Fatalf("expected id 42, got %d (%v)", id, err)
	}
	if _, err := Resolve("drawable://logo").ResourceID(); err == nil {
		t.Fatalf("non-numeric drawable id should fail")
	}
	if _, err := Resolve("assets://42").ResourceID(); err == nil {
		t.Fatalf("assets locator has no resource id")
	}
}

func TestWrapAndCrop(t *testing.T) {
	locator := File.Wrap("/tmp/cache/abc")
	if locator != "file:///tmp/cache/abc" {
		t.Fatalf("unexpected wrap result %s", locator)
	}
	path, err := File.Crop(locator)
	if err != nil || path != "/tmp/cache/abc" {
		t.Fatalf("crop mismatch: %q %v", path, err)
	}
	if _, err := Assets.Crop(locator); err == nil {
		t.Fatalf("crop with the wrong scheme should fail")
	}
	if !HTTPS.IsNetwork() || File.IsNetwork() {
		t.Fatalf("IsNetwork classification mismatch")
	}
}
