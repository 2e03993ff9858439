// Package capture renders the /calendar page to a PNG with headless
// Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"meetcal/internal/config"
	appLog "meetcal/internal/log"
)

const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second

	// readySelector matches the page root once the template has rendered.
	readySelector = `[data-ready="true"]`
)

// Options describes one screenshot.
type Options struct {
	// URL of the page, e.g. "http://127.0.0.1:8080/calendar?year=2025&month=4".
	URL string
	// Output is where the PNG is written. Parent directories are created.
	Output string

	Width   int
	Height  int
	Timeout time.Duration
}

// FromConfig builds Options from the capture section of the config.
func FromConfig(c config.CaptureConfig) Options {
	return Options{URL: c.URL, Output: c.Output, Width: c.Width, Height: c.Height}
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.Output == "" {
		return errors.New("capture: output path is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// Screenshot navigates to opts.URL, waits for the calendar root to report
// data-ready="true" and writes a full-page PNG to opts.Output.
func Screenshot(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeFileAtomic(opts.Output, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("calendar snapshot written",
		"output", opts.Output,
		"bytes", len(png),
		"elapsed", time.Since(start).String(),
	)
	return nil
}

// writeFileAtomic keeps /preview.png readers from seeing a half-written
// file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".meetcal-preview-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
