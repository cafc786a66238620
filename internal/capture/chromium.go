// Package capture renders the widget HTML pages to PNG with headless
// Chromium, for clients that can only show images.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "todaywhat/internal/log"
)

// Family is a widget size class.
type Family string

const (
	FamilySmall  Family = "small"
	FamilyMedium Family = "medium"
	FamilyLarge  Family = "large"
)

// Viewport sizes in CSS pixels; screenshots are taken at 2x.
var familySizes = map[Family][2]int{
	FamilySmall:  {170, 170},
	FamilyMedium: {364, 170},
	FamilyLarge:  {364, 382},
}

const (
	DefaultTimeout = 30 * time.Second
	deviceScale    = 2.0
)

// ErrUnknownFamily rejects a widget family without a viewport size.
var ErrUnknownFamily = errors.New("capture: unknown widget family")

// Options defines one capture.
type Options struct {
	// URL of a widget page, e.g. "http://127.0.0.1:8080/widget/meal".
	URL string

	// OutputPath receives the PNG. It is replaced atomically.
	OutputPath string

	Family  Family
	Timeout time.Duration

	// Headers are sent with every request of the page, e.g. Authorization.
	Headers map[string]string
}

// Size returns the viewport of f.
func (f Family) Size() (int, int, error) {
	if f == "" {
		f = FamilyMedium
	}
	s, ok := familySizes[f]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}
	return s[0], s[1], nil
}

// CaptureWidgetPNG navigates headless Chromium to opts.URL, waits until the
// page marks itself `[data-ready="true"]`, and writes a screenshot.
func CaptureWidgetPNG(parentCtx context.Context, opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	width, height, err := opts.Family.Size()
	if err != nil {
		return err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	var tasks chromedp.Tasks
	if len(opts.Headers) > 0 {
		headers := network.Headers{}
		for k, v := range opts.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	tasks = append(tasks,
		chromedp.EmulateViewport(int64(width), int64(height), chromedp.EmulateScale(deviceScale)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		// Let web fonts finish painting.
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	return writeAtomic(opts.OutputPath, png)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".todaywhat-preview-*.png")
	if err != nil {
		return fmt.Errorf("capture: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("capture: close PNG: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("capture: rename PNG: %w", err)
	}
	return nil
}

// Snapshotter serializes captures and reuses a recent PNG. Only one
// Chromium runs at a time.
type Snapshotter struct {
	BaseURL string
	Dir     string
	MaxAge  time.Duration

	// capture is swapped in tests.
	capture func(context.Context, Options) error
	auth    string

	mu    sync.Mutex
	taken map[string]time.Time
}

func NewSnapshotter(baseURL, dir string, maxAge time.Duration) *Snapshotter {
	return &Snapshotter{
		BaseURL: baseURL,
		Dir:     dir,
		MaxAge:  maxAge,
		capture: CaptureWidgetPNG,
		taken:   make(map[string]time.Time),
	}
}

// SetBasicAuth makes captures authenticate against a server guarded by
// HTTP basic auth.
func (s *Snapshotter) SetBasicAuth(username, password string) {
	s.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// Snapshot returns the path of a PNG of the widget page at path ("meal" or
// "timetable") in family, capturing a new one when the last is too old.
func (s *Snapshotter) Snapshot(ctx context.Context, page string, family Family) (string, error) {
	if family == "" {
		family = FamilyMedium
	}
	if _, _, err := family.Size(); err != nil {
		return "", err
	}
	key := page + "-" + string(family)
	out := filepath.Join(s.Dir, "preview-"+key+".png")

	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.taken[key]; ok && time.Since(at) < s.MaxAge {
		if _, err := os.Stat(out); err == nil {
			return out, nil
		}
	}

	opts := Options{
		URL:        s.BaseURL + "/widget/" + page + "?family=" + string(family),
		OutputPath: out,
		Family:     family,
	}
	if s.auth != "" {
		opts.Headers = map[string]string{"Authorization": s.auth}
	}

	start := time.Now()
	err := s.capture(ctx, opts)
	if err != nil {
		return "", err
	}
	s.taken[key] = time.Now()
	appLog.Info("widget snapshot captured", "page", page, "family", family, "elapsed", time.Since(start).String())
	return out, nil
}
