package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"meetcal/internal/config"
)

func TestScreenshotRequiresTargets(t *testing.T) {
	cases := []Options{
		{Output: "out.png"},
		{URL: "http://127.0.0.1:1/calendar"},
	}
	for _, opts := range cases {
		if err := Screenshot(context.Background(), opts); err == nil {
			t.Errorf("Screenshot(%+v) succeeded", opts)
		}
	}
}

func TestFromConfigDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := FromConfig(cfg.Capture)
	if err := opts.normalize(); err != nil {
		t.Fatal(err)
	}
	if opts.URL != "http://127.0.0.1:8080/calendar" {
		t.Errorf("URL = %q", opts.URL)
	}
	if opts.Width != DefaultWidth || opts.Height != DefaultHeight || opts.Timeout != DefaultTimeout {
		t.Errorf("opts = %+v", opts)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preview.png")
	if err := writeFileAtomic(path, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := writeFileAtomic(path, []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Errorf("content = %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}
