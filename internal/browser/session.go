package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/xevolve/realm-e2e/internal/logutil"
)

// Session is one scenario's browsing context: a page plus the base URLs of
// the environment under test. Providers drive it; it never interprets
// auth semantics itself.
type Session struct {
	Page    playwright.Page
	Context playwright.BrowserContext

	FunctionsURL string
	WebURL       string
	AdminURL     string
}

// Goto navigates and waits for network idle so redirect chains settle.
func (s *Session) Goto(url string, timeout time.Duration) error {
	_, err := s.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("goto %s: %w", logutil.RedactURL(url), err)
	}
	return nil
}

// CurrentURL returns the page's current URL.
func (s *Session) CurrentURL() string {
	return s.Page.URL()
}

// ContentSnippet returns at most limit bytes of the page content.
// Used only for failure diagnostics; errors collapse to empty.
func (s *Session) ContentSnippet(limit int) string {
	content, err := s.Page.Content()
	if err != nil {
		return ""
	}
	if len(content) > limit {
		return content[:limit]
	}
	return content
}

// IsVisibleWithin reports whether any element matching selector becomes
// visible before the timeout. Absence is a soft negative, never an error.
func (s *Session) IsVisibleWithin(selector string, timeout time.Duration) bool {
	locator := s.Page.Locator(selector).First()
	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

// WaitVisible waits for an element to be visible and returns its locator.
func (s *Session) WaitVisible(selector string, timeout time.Duration) (playwright.Locator, error) {
	locator := s.Page.Locator(selector).First()
	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", selector, err)
	}
	return locator, nil
}

// Fill fills the first element matching selector.
func (s *Session) Fill(selector, value string) error {
	if err := s.Page.Locator(selector).First().Fill(value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(selector string) error {
	if err := s.Page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// CookieValue returns the value of a named cookie, if set.
func (s *Session) CookieValue(name string) (string, bool) {
	cookies, err := s.Context.Cookies()
	if err != nil {
		return "", false
	}
	for _, c := range cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// ClearCookies removes all cookies so a scenario starts unauthenticated.
func (s *Session) ClearCookies() error {
	return s.Context.ClearCookies()
}

// AddCookie sets a cookie on the browsing context.
func (s *Session) AddCookie(name, value, domain string) error {
	return s.Context.AddCookies([]playwright.OptionalCookie{
		{
			Name:     name,
			Value:    value,
			Domain:   playwright.String(domain),
			Path:     playwright.String("/"),
			HttpOnly: playwright.Bool(true),
			Secure:   playwright.Bool(false),
			SameSite: playwright.SameSiteAttributeLax,
		},
	})
}

// APIGet issues a GET through the browser's request context, so the
// session's cookies ride along. Returns status and body.
func (s *Session) APIGet(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	_ = ctx // playwright-go request contexts carry their own timeouts

	resp, err := s.Context.Request().Get(url, playwright.APIRequestContextGetOptions{
		Headers: headers,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("GET %s: %w", logutil.RedactURL(url), err)
	}
	body, err := resp.Body()
	if err != nil {
		return resp.Status(), nil, fmt.Errorf("read body of %s: %w", logutil.RedactURL(url), err)
	}
	return resp.Status(), body, nil
}

// Screenshot captures a full-page screenshot to path.
func (s *Session) Screenshot(path string) error {
	_, err := s.Page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

// Close tears down the page and its context.
func (s *Session) Close() {
	if s.Page != nil {
		_ = s.Page.Close()
	}
	if s.Context != nil {
		_ = s.Context.Close()
	}
}
