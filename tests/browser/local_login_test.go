package browser

import (
	"context"
	"strings"
	"testing"

	"github.com/xevolve/realm-e2e/internal/auth"
	"github.com/xevolve/realm-e2e/internal/stubrealm"
)

// TestLocalLogin_FormFlow fills and submits the backend's own login form.
func TestLocalLogin_FormFlow(t *testing.T) {
	env := SetupEnv(t)
	provider, session := env.Provider(t, auth.LocalProviderName)

	result := provider.Login(context.Background(), "")

	if !result.Success {
		t.Fatalf("login failed: %s", result.Err)
	}
	if result.Token == "" {
		t.Fatal("successful login returned empty token")
	}
	if result.User == nil {
		t.Fatal("successful login returned nil user")
	}
	if result.User.Provider != "local" {
		t.Errorf("provider = %q, want local", result.User.Provider)
	}
	if result.User.Email != localTestEmail {
		t.Errorf("email = %q, want %q", result.User.Email, localTestEmail)
	}
	if _, ok := session.CookieValue(stubrealm.SessionCookieName); !ok {
		t.Error("session cookie not set after login")
	}
}

// TestLocalLogin_DirectRedirect covers the formless path: the login
// endpoint redirects immediately with a token, no form ever renders,
// and the provider treats its absence as a soft negative.
func TestLocalLogin_DirectRedirect(t *testing.T) {
	env := SetupEnv(t)
	env.Stub.SetLocalAutoLogin(true)
	t.Cleanup(func() { env.Stub.SetLocalAutoLogin(false) })

	provider, _ := env.Provider(t, auth.LocalProviderName)
	result := provider.Login(context.Background(), "")

	if !result.Success {
		t.Fatalf("login failed: %s", result.Err)
	}
	if result.Token == "" {
		t.Fatal("successful login returned empty token")
	}
	if result.User == nil || result.User.Provider != "local" {
		t.Errorf("user = %+v, want local provider", result.User)
	}
}

// TestLocalLogin_ClearedCookiesDropSession proves the suite can reset to
// an unauthenticated state without a logout round trip: clearing the
// browsing context's cookies alone invalidates ambient-cookie access.
func TestLocalLogin_ClearedCookiesDropSession(t *testing.T) {
	env := SetupEnv(t)
	provider, session := env.Provider(t, auth.LocalProviderName)

	result := provider.Login(context.Background(), "")
	if !result.Success {
		t.Fatalf("login failed: %s", result.Err)
	}

	if err := session.ClearCookies(); err != nil {
		t.Fatalf("clear cookies: %v", err)
	}

	recheck := provider.ValidateToken(context.Background(), "")
	if recheck.Success {
		t.Error("ambient session survived cookie clearing")
	}
}

// TestLocalLogout_ClearsSession logs in, logs out, and re-checks session
// state explicitly. Logout itself only confirms navigation; the identity
// endpoint is the authority on whether the session survived.
func TestLocalLogout_ClearsSession(t *testing.T) {
	env := SetupEnv(t)
	provider, session := env.Provider(t, auth.LocalProviderName)

	result := provider.Login(context.Background(), "")
	if !result.Success {
		t.Fatalf("login failed: %s", result.Err)
	}
	if _, ok := session.CookieValue(stubrealm.SessionCookieName); !ok {
		t.Fatal("session cookie missing before logout")
	}

	if !provider.Logout(context.Background(), "") {
		t.Fatal("logout navigation failed")
	}

	// Ambient-cookie validation: no bearer token, so only a surviving
	// session cookie could authenticate this call.
	recheck := provider.ValidateToken(context.Background(), "")
	if recheck.Success {
		t.Error("session still valid after logout")
	}
	if !strings.Contains(recheck.Err, "401") {
		t.Errorf("recheck error = %q, want a 401 status", recheck.Err)
	}
}
