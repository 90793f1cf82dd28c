package browser

import (
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/xevolve/realm-e2e/internal/logutil"
)

// ResponseWatcher observes every network response on a page and records a
// value extracted from response URLs. It exists because redirect responses
// carrying a token can fire before the navigation call returns: the watcher
// must be attached strictly before the first Goto, and callers must Close
// it on every exit path so the listener never leaks into the next scenario.
type ResponseWatcher struct {
	page    playwright.Page
	handler func(playwright.Response)

	mu    sync.Mutex
	value string
	found bool

	closeOnce sync.Once
}

// WatchResponses subscribes to the page's response events. extract is
// called with each response URL; the most recent match wins, mirroring the
// order redirects arrive in.
func WatchResponses(page playwright.Page, extract func(url string) (string, bool)) *ResponseWatcher {
	w := &ResponseWatcher{page: page}
	w.handler = func(resp playwright.Response) {
		value, ok := extract(resp.URL())
		if !ok {
			return
		}
		w.mu.Lock()
		w.value = value
		w.found = true
		w.mu.Unlock()
		log.Debug("token observed in redirect", "url", logutil.RedactURL(resp.URL()))
	}
	page.On("response", w.handler)
	return w
}

// Value returns the captured value, if any response yielded one.
func (w *ResponseWatcher) Value() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.found
}

// Close detaches the listener. Safe to call more than once.
func (w *ResponseWatcher) Close() {
	w.closeOnce.Do(func() {
		w.page.RemoveListener("response", w.handler)
	})
}
