package domcheck

import (
	gocontext "context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/cgast/dsverify/internal/sandbox"
)

// FileRenderer serves routes from pre-rendered HTML files under the
// project root. Routes without an entry fall back to Default.
type FileRenderer struct {
	Sandbox *sandbox.Sandbox
	Files   map[string]string
	Default string
}

// Render implements Renderer.
func (f FileRenderer) Render(_ gocontext.Context, route string) (string, error) {
	rel, ok := f.Files[route]
	if !ok {
		rel = f.Default
	}
	if rel == "" {
		return "", fmt.Errorf("no html file for route %s", route)
	}
	path, err := f.Sandbox.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("html for %s: %w", route, err)
	}
	if err := f.Sandbox.CheckFileSize(info.Size()); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ChromeRenderer renders live routes in headless Chrome.
type ChromeRenderer struct {
	baseURL string
	timeout time.Duration
	settle  time.Duration

	browserCtx gocontext.Context
	cancel     func()
}

// NewChromeRenderer starts a headless browser. When Chrome cannot be
// launched the error wraps ErrNoRenderer.
func NewChromeRenderer(ctx gocontext.Context, baseURL string, timeout, settle time.Duration) (*ChromeRenderer, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1024, 768),
		)...,
	)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run launches the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrNoRenderer, err)
	}

	return &ChromeRenderer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		settle:     settle,
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

// Render implements Renderer. Each route gets its own tab.
func (c *ChromeRenderer) Render(ctx gocontext.Context, route string) (string, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	defer cancel()
	tabCtx, cancelTimeout := gocontext.WithTimeout(tabCtx, c.timeout)
	defer cancelTimeout()

	stop := gocontext.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(c.baseURL+route),
		chromedp.WaitReady("body"),
		chromedp.Sleep(c.settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}
	return html, nil
}

// Close shuts the browser down.
func (c *ChromeRenderer) Close() {
	c.cancel()
}
