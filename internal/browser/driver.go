// Package browser wraps the Playwright driver with the small capability
// surface the auth providers consume: navigate, fill, click, bounded
// visibility waits, cookie access, response observation, and HTTP requests
// scoped to the same browser session.
package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/xevolve/realm-e2e/internal/config"
	"github.com/xevolve/realm-e2e/internal/obs"
)

var log = obs.Pkg("browser")

// Driver owns the Playwright process and a single launched browser.
// One Driver is shared across scenarios; each scenario gets its own
// Session (browser context + page).
type Driver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Launch starts Playwright and launches the configured browser type.
func Launch(cfg *config.Config) (*Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	var browserType playwright.BrowserType
	switch cfg.BrowserType {
	case "firefox":
		browserType = pw.Firefox
	case "webkit":
		browserType = pw.WebKit
	default:
		browserType = pw.Chromium
	}

	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		SlowMo:   playwright.Float(float64(cfg.SlowMoMS)),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch %s: %w", cfg.BrowserType, err)
	}

	log.Info("browser launched", "type", cfg.BrowserType, "headless", cfg.Headless)
	return &Driver{pw: pw, browser: browser}, nil
}

// NewSession creates a fresh browser context and page.
func (d *Driver) NewSession(cfg *config.Config) (*Session, error) {
	ctx, err := d.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1920, Height: 1080},
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}

	page, err := ctx.NewPage()
	if err != nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	return &Session{
		Page:         page,
		Context:      ctx,
		FunctionsURL: cfg.FunctionsURL,
		WebURL:       cfg.WebURL,
		AdminURL:     cfg.AdminURL,
	}, nil
}

// Close shuts down the browser and the Playwright process.
func (d *Driver) Close() {
	if d.browser != nil {
		_ = d.browser.Close()
	}
	if d.pw != nil {
		_ = d.pw.Stop()
	}
}
