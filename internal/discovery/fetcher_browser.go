package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

type BrowserOptions struct {
	Headless    bool
	SkipInstall bool
	Timeout     time.Duration
	// SettleDelay is waited after network idle for late script-inserted links.
	SettleDelay time.Duration
}

// BrowserFetcher renders pages in headless Chromium.
type BrowserFetcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    BrowserOptions
}

func NewBrowserFetcher(opts BrowserOptions) (*BrowserFetcher, error) {
	if !opts.SkipInstall {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright driver: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &BrowserFetcher{pw: pw, browser: browser, opts: opts}, nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	page, err := b.browser.NewPage()
	if err != nil {
		return Page{}, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = page.Close()
	})
	defer stop()

	timeout := b.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	gotoOpts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateNetworkidle}
	if timeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}

	resp, err := page.Goto(pageURL, gotoOpts)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if resp != nil && resp.Status() >= 400 {
		return Page{}, fmt.Errorf("GET %s: status %d", pageURL, resp.Status())
	}
	if b.opts.SettleDelay > 0 {
		page.WaitForTimeout(float64(b.opts.SettleDelay.Milliseconds()))
	}

	html, err := page.Content()
	if err != nil {
		return Page{}, fmt.Errorf("read content of %s: %w", pageURL, err)
	}
	return Page{URL: page.URL(), HTML: html}, nil
}

func (b *BrowserFetcher) Close() error {
	var firstErr error
	if err := b.browser.Close(); err != nil {
		firstErr = fmt.Errorf("close browser: %w", err)
	}
	if err := b.pw.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop playwright: %w", err)
	}
	return firstErr
}
