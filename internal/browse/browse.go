// Package browse fetches pages with a headless browser so the agent
// can read script-rendered content the way a user would see it.
package browse

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"pkt.systems/pslog"
)

// Config controls the headless fetcher.
type Config struct {
	// Timeout bounds one fetch, navigation included. Defaults to 30s.
	Timeout time.Duration
	// Logger is used for fetch diagnostics.
	Logger pslog.Logger
}

// Fetcher renders pages headlessly. A fresh browser is started per
// fetch and torn down with it; nothing persists between calls.
type Fetcher struct {
	timeout time.Duration
	log     pslog.Logger
}

// NewFetcher constructs a page fetcher.
func NewFetcher(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{timeout: timeout, log: cfg.Logger}
}

// Result is the rendered page content.
type Result struct {
	Title string
	Text  string
}

// Fetch navigates to the URL and returns the page title and visible
// body text after rendering.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Result{}, err
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return Result{}, errors.New("browse: url must be http or https")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	started := time.Now()
	var title, text string
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(target.String()),
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		if f.log != nil {
			f.log.Warn("browse fetch failed", "url", target.String(), "err", err)
		}
		return Result{}, err
	}
	if f.log != nil {
		f.log.Debug("browse fetch ok",
			"url", target.String(),
			"title_len", len(title),
			"text_len", len(text),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
	return Result{Title: strings.TrimSpace(title), Text: strings.TrimSpace(text)}, nil
}
