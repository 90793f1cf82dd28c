package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/xevolve/realm-e2e/internal/browser"
	"github.com/xevolve/realm-e2e/internal/config"
	"github.com/xevolve/realm-e2e/internal/logutil"
	"github.com/xevolve/realm-e2e/internal/obs"
)

// Provider drives one named authentication strategy end to end against
// the current browser session.
type Provider interface {
	// Name is the stable provider identifier (registry key, and the
	// value surfaced in AuthUser.Provider when the backend omits one).
	Name() string
	// Credentials resolves this provider's test credential pair. It
	// fails fast when a required secret is unset, before any navigation.
	Credentials() (config.Credentials, error)
	// Login performs the provider-specific flow. Terminal failures come
	// back as a failed AuthResult, never as a panic or raised error.
	Login(ctx context.Context, redirectURI string) AuthResult
	// Logout navigates to the logout endpoint with a post-logout
	// redirect. Fire and forget: it reports true once the navigation
	// completes, without verifying the destination. Callers needing a
	// stronger guarantee re-check session state themselves.
	Logout(ctx context.Context, redirectURI string) bool
	// ValidateToken resolves a token into an AuthResult via the
	// identity endpoint.
	ValidateToken(ctx context.Context, token string) AuthResult
}

// Bounded wait budgets. Optional UI absence past its budget is a soft
// negative; only the terminal no-token condition is a hard failure.
const (
	navigationTimeout    = 20 * time.Second
	credentialWait       = 15 * time.Second
	optionalPromptWait   = 3 * time.Second
	loginFormWait        = 3 * time.Second
	callbackPollInterval = 500 * time.Millisecond
	callbackPollCount    = 10
	contentSnippetLimit  = 1000
)

// callbackPathMarker identifies the backend's OAuth callback path in
// observed URLs.
const callbackPathMarker = "auth/callback"

// base carries the pieces every provider variant shares. No mutable
// state beyond the injected session.
type base struct {
	session   *browser.Session
	cfg       *config.Config
	validator *SessionValidator
	log       *slog.Logger
}

func newBase(name string, session *browser.Session, cfg *config.Config) base {
	return base{
		session:   session,
		cfg:       cfg,
		validator: NewSessionValidator(session, cfg.FunctionsURL),
		log:       obs.Pkg("auth").With("provider", name),
	}
}

// defaultRedirect picks the post-login landing URL when the caller did
// not supply one: the web app when configured, else the health endpoint.
func (b *base) defaultRedirect(redirectURI string) string {
	if redirectURI != "" {
		return redirectURI
	}
	if b.session.WebURL != "" {
		return b.session.WebURL
	}
	return b.cfg.FunctionsURL + "/api/health"
}

func (b *base) loginURL(provider, redirectURI string) string {
	return fmt.Sprintf("%s/api/auth/login/%s?post_login_redirect_uri=%s",
		b.cfg.FunctionsURL, provider, url.QueryEscape(redirectURI))
}

// logout navigates to the logout endpoint. Unconditionally true once the
// navigation completes; false only when the navigation itself fails.
func (b *base) logout(redirectURI string) bool {
	redirect := b.defaultRedirect(redirectURI)
	logoutURL := fmt.Sprintf("%s/api/auth/logout?post_login_redirect_uri=%s",
		b.cfg.FunctionsURL, url.QueryEscape(redirect))
	if err := b.session.Goto(logoutURL, navigationTimeout); err != nil {
		b.log.Warn("logout navigation failed", "err", err)
		return false
	}
	return true
}

// waitOffCallbackPath polls the current URL for a bounded number of short
// intervals waiting for the browser to leave the callback path. The
// callback answers with a 302; this gives the page time to follow it.
func (b *base) waitOffCallbackPath(ctx context.Context) {
	for i := 0; i < callbackPollCount; i++ {
		if ctx.Err() != nil {
			return
		}
		time.Sleep(callbackPollInterval)
		if !strings.Contains(b.session.CurrentURL(), callbackPathMarker) {
			return
		}
	}
}

// resolveToken applies the deterministic resolution order: a token the
// watcher captured during any redirect wins; otherwise the final URL is
// scanned. These are two branches of one order, not a race outcome.
func (b *base) resolveToken(watcher *browser.ResponseWatcher) (string, bool) {
	if token, ok := watcher.Value(); ok {
		return token, true
	}
	return ExtractTokenFromURL(b.session.CurrentURL())
}

// finishLogin validates a resolved token, or builds the structured
// no-token failure with the final URL and a best-effort page snapshot.
func (b *base) finishLogin(ctx context.Context, providerName string, watcher *browser.ResponseWatcher) AuthResult {
	finalURL := b.session.CurrentURL()

	token, ok := b.resolveToken(watcher)
	if ok {
		result := b.validator.Validate(ctx, token, providerName)
		result.RedirectURL = finalURL
		b.log.Info("login finished",
			"success", result.Success,
			"final_url", logutil.RedactURL(finalURL))
		return result
	}

	errMsg := fmt.Sprintf("no token received. Final URL: %s", finalURL)
	if strings.Contains(finalURL, callbackPathMarker) {
		if snippet := b.session.ContentSnippet(contentSnippetLimit); snippet != "" {
			errMsg += "\nPage content: " + snippet
		}
	}
	b.log.Warn("login produced no token", "final_url", logutil.RedactURL(finalURL))
	return AuthResult{Success: false, Err: errMsg, RedirectURL: finalURL}
}
