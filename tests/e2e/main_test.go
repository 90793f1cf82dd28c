// Package e2e exercises the backend API surface over plain HTTP: health
// probing, the identity endpoint, token validation, and the OAuth code
// flow against a mock OIDC server. No browser is involved; the
// Playwright-driven scenarios live in tests/browser.
package e2e

import (
	"context"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xevolve/realm-e2e/internal/apiclient"
	"github.com/xevolve/realm-e2e/internal/stubrealm"
)

const (
	ssoTestEmail   = "test.sso.user@xevolve.io"
	localTestEmail = "test@example.com"
)

var fixtureMu sync.Mutex
var sharedFixture *apiFixture

type apiFixture struct {
	Stub      *stubrealm.Server
	Client    *apiclient.Client
	APIServer *httptest.Server
	IDPServer *httptest.Server
}

// setupAPIFixture returns the shared stub environment with its failure
// toggles reset.
func setupAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	fixtureMu.Lock()
	defer fixtureMu.Unlock()

	if sharedFixture == nil {
		sharedFixture = createAPIFixture(t)
	}

	f := sharedFixture
	f.Stub.SetHealthFailures(0)
	f.Stub.SetFailCallback(false)
	f.Stub.SetLocalAutoLogin(false)
	return f
}

func createAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	stub, err := stubrealm.New(stubrealm.Options{
		LocalUsers: map[string]string{localTestEmail: "local-test-password"},
		SSOUsers: map[string]stubrealm.SSOUser{
			ssoTestEmail: {
				Password: "sso-test-password",
				Name:     "Test SSO User",
				Roles:    []string{"admin", "operator"},
			},
		},
	})
	if err != nil {
		t.Fatalf("create stub: %v", err)
	}

	apiServer := httptest.NewServer(stub.APIMux())
	idpServer := httptest.NewServer(stub.IDPMux())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stub.SetURLs(ctx, apiServer.URL, idpServer.URL); err != nil {
		apiServer.Close()
		idpServer.Close()
		t.Fatalf("wire stub URLs: %v", err)
	}

	return &apiFixture{
		Stub:      stub,
		Client:    apiclient.New(apiServer.URL),
		APIServer: apiServer,
		IDPServer: idpServer,
	}
}

func cleanupSharedFixture() {
	fixtureMu.Lock()
	defer fixtureMu.Unlock()

	if sharedFixture == nil {
		return
	}
	sharedFixture.APIServer.Close()
	sharedFixture.IDPServer.Close()
	sharedFixture = nil
}

// TestMain closes the shared httptest servers so their accept loops do
// not keep the process alive after the run.
func TestMain(m *testing.M) {
	code := m.Run()
	cleanupSharedFixture()
	os.Exit(code)
}
