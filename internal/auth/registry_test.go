package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xevolve/realm-e2e/internal/browser"
	"github.com/xevolve/realm-e2e/internal/config"
	"github.com/xevolve/realm-e2e/internal/errs"
)

type stubProvider struct {
	Provider
	name string
}

func (s *stubProvider) Name() string { return s.name }

func stubFactory(name string) Factory {
	return func(_ *browser.Session, _ *config.Config) Provider {
		return &stubProvider{name: name}
	}
}

func testRegistryConfig() *config.Config {
	return &config.Config{
		FunctionsURL: "http://127.0.0.1:7071",
		TestUsers:    map[string]config.Credentials{},
		BrowserType:  "chromium",
	}
}

func TestRegistry_GetConstructsFreshInstances(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("stub", stubFactory("stub"))

	first, err := r.Get("stub", nil, testRegistryConfig())
	require.NoError(t, err)
	second, err := r.Get("stub", nil, testRegistryConfig())
	require.NoError(t, err)

	assert.Equal(t, "stub", first.Name())
	assert.NotSame(t, first, second, "instances are per-login, not cached")
}

func TestRegistry_UnknownProviderFails(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	_, err := r.Get("does-not-exist", nil, testRegistryConfig())
	require.Error(t, err)
	assert.Equal(t, errs.UnknownProvider, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestRegistry_RegisterOverwritesExisting(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("stub", stubFactory("original"))
	r.Register("stub", stubFactory("replacement"))

	p, err := r.Get("stub", nil, testRegistryConfig())
	require.NoError(t, err)
	assert.Equal(t, "replacement", p.Name())
	assert.Equal(t, []string{"stub"}, r.List(), "overwrite does not duplicate the name")
}

func TestDefaultRegistry_BuiltinProviders(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	assert.ElementsMatch(t, []string{EntraProviderName, LocalProviderName}, r.List())

	aad, err := r.Get(EntraProviderName, nil, testRegistryConfig())
	require.NoError(t, err)
	assert.Equal(t, "aad", aad.Name())

	local, err := r.Get(LocalProviderName, nil, testRegistryConfig())
	require.NoError(t, err)
	assert.Equal(t, "local", local.Name())
}

func TestEntraProvider_CredentialsFailFastWithoutPassword(t *testing.T) {
	t.Parallel()

	cfg := testRegistryConfig()
	cfg.TestUsers[EntraProviderName] = config.Credentials{Email: "sso@xevolve.io"}

	r := DefaultRegistry()
	p, err := r.Get(EntraProviderName, nil, cfg)
	require.NoError(t, err)

	_, err = p.Credentials()
	require.Error(t, err)
	assert.Equal(t, errs.ConfigError, errs.CodeOf(err))

	// Login fails fast at credential resolution, before any navigation
	// (a nil session would panic if it navigated).
	result := p.Login(context.Background(), "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "SSO_TEST_USER_PASSWORD")
}
