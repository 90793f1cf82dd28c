package auth

import (
	"context"
	"strings"
	"time"

	"github.com/xevolve/realm-e2e/internal/browser"
	"github.com/xevolve/realm-e2e/internal/config"
	"github.com/xevolve/realm-e2e/internal/errs"
	"github.com/xevolve/realm-e2e/internal/obs"
)

// EntraProviderName is the registry key for the Azure AD (Entra ID)
// SSO-redirect provider.
const EntraProviderName = "aad"

// defaultEntraIdPHost is the host the interactive login detour lands on.
// Overridable via SSO_IDP_HOST for environments fronted by a different
// identity-provider domain (and for the hermetic stub).
const defaultEntraIdPHost = "login.microsoftonline.com"

// EntraProvider authenticates through the interactive Azure AD redirect
// flow: navigate to the provider login endpoint, complete the external
// credential forms if the browser lands on the IdP domain, tolerate the
// optional post-login prompts, then recover the token from the redirect
// chain or the final URL.
type EntraProvider struct {
	base
	idpHost string
}

// NewEntraProvider constructs an Entra provider bound to a session.
func NewEntraProvider(session *browser.Session, cfg *config.Config) Provider {
	idpHost := cfg.IdPHost
	if idpHost == "" {
		idpHost = defaultEntraIdPHost
	}
	return &EntraProvider{
		base:    newBase(EntraProviderName, session, cfg),
		idpHost: idpHost,
	}
}

func (p *EntraProvider) Name() string { return EntraProviderName }

// Credentials resolves the SSO test user. The password is a required
// secret: interactive IdP login cannot proceed without it.
func (p *EntraProvider) Credentials() (config.Credentials, error) {
	creds, ok := p.cfg.Credentials(EntraProviderName)
	if !ok || creds.Email == "" {
		return config.Credentials{}, errs.New(errs.ConfigError, "SSO test user email is not configured")
	}
	if creds.Password == "" {
		return config.Credentials{}, errs.New(errs.ConfigError, "SSO_TEST_USER_PASSWORD is not set")
	}
	return creds, nil
}

// Login drives the SSO redirect flow and returns a structured result.
func (p *EntraProvider) Login(ctx context.Context, redirectURI string) AuthResult {
	ctx = obs.WithProvider(ctx, EntraProviderName)

	creds, err := p.Credentials()
	if err != nil {
		return AuthResult{Success: false, Err: err.Error()}
	}

	redirect := p.defaultRedirect(redirectURI)
	loginURL := p.loginURL(EntraProviderName, redirect)

	// Attach before navigating: the token-bearing redirect can fire
	// before Goto returns.
	watcher := browser.WatchResponses(p.session.Page, ExtractTokenFromURL)
	defer watcher.Close()

	if err := p.session.Goto(loginURL, navigationTimeout); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}
	}

	if strings.Contains(p.session.CurrentURL(), p.idpHost) {
		if result, failed := p.completeIdPLogin(ctx, creds); failed {
			return result
		}
	}

	p.waitOffCallbackPath(ctx)

	return p.finishLogin(ctx, EntraProviderName, watcher)
}

// completeIdPLogin fills the external credential-entry sequence. The
// second return is true when the flow failed hard (a required form never
// appeared).
func (p *EntraProvider) completeIdPLogin(ctx context.Context, creds config.Credentials) (AuthResult, bool) {
	p.log.Info("completing identity-provider login", "idp_host", p.idpHost)

	emailInput, err := p.session.WaitVisible(`input[type="email"]`, credentialWait)
	if err != nil {
		return AuthResult{Success: false, Err: "identity provider email form did not appear: " + err.Error(),
			RedirectURL: p.session.CurrentURL()}, true
	}
	if err := emailInput.Fill(creds.Email); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}, true
	}
	if err := p.session.Click(`input[type="submit"]`); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}, true
	}

	passwordInput, err := p.session.WaitVisible(`input[type="password"]`, credentialWait)
	if err != nil {
		return AuthResult{Success: false, Err: "identity provider password form did not appear: " + err.Error(),
			RedirectURL: p.session.CurrentURL()}, true
	}
	if err := passwordInput.Fill(creds.Password); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}, true
	}
	if err := p.session.Click(`input[type="submit"]`); err != nil {
		return AuthResult{Success: false, Err: err.Error(), RedirectURL: p.session.CurrentURL()}, true
	}

	p.handlePostLoginPrompts()
	p.waitForIdPRedirect(ctx)
	return AuthResult{}, false
}

// handlePostLoginPrompts resolves the optional interstitials: the
// "Stay signed in?" prompt and the consent prompt. Absence within the
// bounded wait is not an error.
func (p *EntraProvider) handlePostLoginPrompts() {
	if p.session.IsVisibleWithin(`text="Stay signed in?"`, optionalPromptWait) {
		if err := p.session.Click(`input[value="No"]`); err != nil {
			p.log.Debug("stay-signed-in prompt present but not clickable", "err", err)
		}
	}

	if p.session.IsVisibleWithin(`input[value="Accept"]`, optionalPromptWait) {
		if err := p.session.Click(`input[value="Accept"]`); err != nil {
			p.log.Debug("consent prompt present but not clickable", "err", err)
		}
	}
}

// waitForIdPRedirect waits for the browser to leave the IdP domain, up
// to a fixed budget.
func (p *EntraProvider) waitForIdPRedirect(ctx context.Context) {
	const maxSeconds = 15
	for i := 0; i < maxSeconds; i++ {
		if ctx.Err() != nil {
			return
		}
		time.Sleep(time.Second)
		if !strings.Contains(p.session.CurrentURL(), p.idpHost) {
			return
		}
	}
}

func (p *EntraProvider) Logout(_ context.Context, redirectURI string) bool {
	return p.logout(redirectURI)
}

func (p *EntraProvider) ValidateToken(ctx context.Context, token string) AuthResult {
	return p.validator.Validate(ctx, token, EntraProviderName)
}
