package auth

import (
	"context"

	"github.com/xevolve/realm-e2e/internal/browser"
	"github.com/xevolve/realm-e2e/internal/config"
	"github.com/xevolve/realm-e2e/internal/errs"
	"github.com/xevolve/realm-e2e/internal/obs"
)

// LocalProviderName is the registry key for the local form provider.
const LocalProviderName = "local"

// LocalProvider authenticates with a username/password form served by the
// backend itself. When no form renders within the bounded wait, the
// endpoint is assumed to have redirected directly with a token.
type LocalProvider struct {
	base
}

// NewLocalProvider constructs a local provider bound to a session.
func NewLocalProvider(session *browser.Session, cfg *config.Config) Provider {
	return &LocalProvider{base: newBase(LocalProviderName, session, cfg)}
}

func (p *LocalProvider) Name() string { return LocalProviderName }

// Credentials resolves the local test user. The password is required
// only when a login form actually renders, so only the email is checked
// here; a blank password surfaces as a failed form submission instead.
func (p *LocalProvider) Credentials() (config.Credentials, error) {
	creds, ok := p.cfg.Credentials(LocalProviderName)
	if !ok || creds.Email == "" {
		return config.Credentials{}, errs.New(errs.ConfigError, "local test user email is not configured")
	}
	return creds, nil
}

// Login drives the local form flow and returns a structured result.
func (p *LocalProvider) Login(ctx context.Context, redirectURI string) AuthResult {
	ctx = obs.WithProvider(ctx, LocalProviderName)

	creds, err := p.Credentials()
	if err != nil {
		return AuthResult{Success: false, Err: err.Error()}
	}

	redirect := p.defaultRedirect(redirectURI)
	loginURL := p.loginURL(LocalProviderName, redirect)

	watcher := browser.WatchResponses(p.session.Page, ExtractTokenFromURL)
	defer watcher.Close()

	if err := p.session.Goto(loginURL, navigationTimeout); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}
	}

	if p.session.IsVisibleWithin(`input[name="email"], input[name="username"]`, loginFormWait) {
		if result, failed := p.submitLoginForm(creds); failed {
			return result
		}
		p.waitOffCallbackPath(ctx)
	}

	return p.finishLogin(ctx, LocalProviderName, watcher)
}

func (p *LocalProvider) submitLoginForm(creds config.Credentials) (AuthResult, bool) {
	p.log.Info("login form detected, submitting credentials")

	if err := p.session.Fill(`input[name="email"], input[name="username"]`, creds.Email); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}, true
	}
	if err := p.session.Fill(`input[name="password"], input[type="password"]`, creds.Password); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}, true
	}
	if err := p.session.Click(`button[type="submit"], input[type="submit"]`); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}, true
	}
	return AuthResult{}, false
}

func (p *LocalProvider) Logout(_ context.Context, redirectURI string) bool {
	return p.logout(redirectURI)
}

func (p *LocalProvider) ValidateToken(ctx context.Context, token string) AuthResult {
	return p.validator.Validate(ctx, token, LocalProviderName)
}
