// Package browser holds the Playwright-driven tests for the auth
// providers. All test files share one Env via SetupEnv(t): a stub Realm
// backend plus its mock identity provider on separate listeners, and a
// single launched browser reused across tests.
package browser

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xevolve/realm-e2e/internal/auth"
	drv "github.com/xevolve/realm-e2e/internal/browser"
	"github.com/xevolve/realm-e2e/internal/config"
	"github.com/xevolve/realm-e2e/internal/stubrealm"
)

const (
	ssoTestEmail    = "test.sso.user@xevolve.io"
	ssoTestPassword = "sso-test-password"
	ssoTestName     = "Test SSO User"

	localTestEmail    = "test@example.com"
	localTestPassword = "local-test-password"

	setupTimeout = 30 * time.Second
)

var fixtureMu sync.Mutex
var sharedFixture *Env

// Env is the shared test environment: stub backend, stub IdP, suite
// config pointing at both, and the provider registry under test.
type Env struct {
	Cfg      *config.Config
	Stub     *stubrealm.Server
	Registry *auth.Registry

	APIServer *httptest.Server
	IDPServer *httptest.Server

	ScreenshotDir string

	driver   *drv.Driver
	driverMu sync.Mutex
}

// SetupEnv returns the shared environment with stub toggles reset, so
// every test starts from the default stub behavior.
func SetupEnv(t *testing.T) *Env {
	t.Helper()

	fixtureMu.Lock()
	defer fixtureMu.Unlock()

	if sharedFixture == nil {
		sharedFixture = createEnv(t)
	}

	env := sharedFixture
	env.Stub.SetHealthFailures(0)
	env.Stub.SetFailCallback(false)
	env.Stub.SetLocalAutoLogin(false)
	return env
}

func createEnv(t *testing.T) *Env {
	t.Helper()

	stub, err := stubrealm.New(stubrealm.Options{
		LocalUsers: map[string]string{localTestEmail: localTestPassword},
		SSOUsers: map[string]stubrealm.SSOUser{
			ssoTestEmail: {
				Password: ssoTestPassword,
				Name:     ssoTestName,
				Roles:    []string{"admin"},
			},
		},
		ShowStaySignedIn: true,
		ShowConsent:      true,
	})
	if err != nil {
		t.Fatalf("create stub: %v", err)
	}

	apiServer := httptest.NewServer(stub.APIMux())
	idpServer := httptest.NewServer(stub.IDPMux())

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if err := stub.SetURLs(ctx, apiServer.URL, idpServer.URL); err != nil {
		apiServer.Close()
		idpServer.Close()
		t.Fatalf("wire stub URLs: %v", err)
	}

	screenshotDir, err := os.MkdirTemp("", "realm-e2e-screens-*")
	if err != nil {
		t.Fatalf("create screenshot dir: %v", err)
	}

	cfg := &config.Config{
		Environment:  "dev",
		WebURL:       apiServer.URL + "/dash",
		FunctionsURL: apiServer.URL,
		IdPHost:      strings.TrimPrefix(idpServer.URL, "http://"),
		TestUsers: map[string]config.Credentials{
			auth.EntraProviderName: {Email: ssoTestEmail, Password: ssoTestPassword},
			auth.LocalProviderName: {Email: localTestEmail, Password: localTestPassword},
		},
		Headless:      true,
		BrowserType:   "chromium",
		ScreenshotDir: screenshotDir,
	}

	return &Env{
		Cfg:           cfg,
		Stub:          stub,
		Registry:      auth.DefaultRegistry(),
		APIServer:     apiServer,
		IDPServer:     idpServer,
		ScreenshotDir: screenshotDir,
	}
}

// initDriver launches the shared browser, skipping the test when
// Playwright or its browsers are not installed on this machine.
func (env *Env) initDriver(t *testing.T) {
	t.Helper()

	env.driverMu.Lock()
	defer env.driverMu.Unlock()

	if env.driver != nil {
		return
	}
	driver, err := drv.Launch(env.Cfg)
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	env.driver = driver
}

// NewSession creates a fresh browser context and page for one scenario.
// On failure the page is captured to the screenshot directory before the
// session closes.
func (env *Env) NewSession(t *testing.T) *drv.Session {
	t.Helper()

	env.initDriver(t)

	session, err := env.driver.NewSession(env.Cfg)
	if err != nil {
		t.Fatalf("create browser session: %v", err)
	}

	t.Cleanup(func() {
		if t.Failed() {
			name := strings.ReplaceAll(t.Name(), "/", "_")
			path := filepath.Join(env.ScreenshotDir, fmt.Sprintf("%s.png", name))
			if err := session.Screenshot(path); err == nil {
				t.Logf("failure screenshot: %s", path)
			}
		}
		session.Close()
	})
	return session
}

// Provider builds a named provider bound to a fresh session.
func (env *Env) Provider(t *testing.T, name string) (auth.Provider, *drv.Session) {
	t.Helper()

	session := env.NewSession(t)
	provider, err := env.Registry.Get(name, session, env.Cfg)
	if err != nil {
		t.Fatalf("get provider %s: %v", name, err)
	}
	return provider, session
}

// CookieDomain is the host the stub listeners bind to.
func (env *Env) CookieDomain() string {
	host := strings.TrimPrefix(env.APIServer.URL, "http://")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func cleanupSharedEnv() {
	fixtureMu.Lock()
	defer fixtureMu.Unlock()

	if sharedFixture == nil {
		return
	}
	if sharedFixture.driver != nil {
		sharedFixture.driver.Close()
	}
	sharedFixture.APIServer.Close()
	sharedFixture.IDPServer.Close()
	_ = os.RemoveAll(sharedFixture.ScreenshotDir)
	sharedFixture = nil
}

func TestMain(m *testing.M) {
	code := m.Run()
	cleanupSharedEnv()
	os.Exit(code)
}
