package stubrealm

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStub(t *testing.T, opts Options) (*Server, *httptest.Server, *httptest.Server) {
	t.Helper()

	if opts.LocalUsers == nil {
		opts.LocalUsers = map[string]string{"test@example.com": "pw"}
	}
	if opts.SSOUsers == nil {
		opts.SSOUsers = map[string]SSOUser{
			"sso@xevolve.io": {Password: "sso-pw", Name: "SSO User", Roles: []string{"admin"}},
		}
	}

	srv, err := New(opts)
	require.NoError(t, err)

	api := httptest.NewServer(srv.APIMux())
	t.Cleanup(api.Close)
	idp := httptest.NewServer(srv.IDPMux())
	t.Cleanup(idp.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, srv.SetURLs(ctx, api.URL, idp.URL))
	return srv, api, idp
}

func noRedirectClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestTokenMintParseRoundtrip(t *testing.T) {
	srv, _, _ := newTestStub(t, Options{})

	token, err := srv.MintToken("sso@xevolve.io", "aad")
	require.NoError(t, err)

	identity, err := srv.parseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sso@xevolve.io", identity.Email)
	assert.Equal(t, "SSO User", identity.Name)
	assert.Equal(t, "aad", identity.Provider)
	assert.Equal(t, []string{"admin"}, identity.Roles)
	assert.NotEmpty(t, identity.Sub)
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	srv, _, _ := newTestStub(t, Options{})

	_, err := srv.parseToken("not-a-jwt")
	assert.Error(t, err)
}

var flowRe = regexp.MustCompile(`name="flow" value="([0-9a-f]+)"`)

// TestInteractiveSSOFlow walks the whole login by submitting the IdP
// forms directly: email, wrong then right password, stay-signed-in,
// consent, callback, and finally the token-bearing redirect.
func TestInteractiveSSOFlow(t *testing.T) {
	_, api, idp := newTestStub(t, Options{ShowStaySignedIn: true, ShowConsent: true})
	client := noRedirectClient(t)

	resp, err := client.Get(api.URL + "/api/auth/login/aad?post_login_redirect_uri=" +
		url.QueryEscape(api.URL+"/api/health"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authorizeURL := resp.Header.Get("Location")
	require.Contains(t, authorizeURL, idp.URL)

	// Email page.
	resp, err = client.Get(authorizeURL)
	require.NoError(t, err)
	page := readBody(t, resp)
	require.Contains(t, page, `name="loginfmt"`)
	flow := flowRe.FindStringSubmatch(page)
	require.Len(t, flow, 2)

	// Wrong password is an in-place error, not a redirect.
	resp, err = client.PostForm(idp.URL+"/login/email",
		url.Values{"flow": {flow[1]}, "loginfmt": {"sso@xevolve.io"}})
	require.NoError(t, err)
	page = readBody(t, resp)
	require.Contains(t, page, `name="passwd"`)

	resp, err = client.PostForm(idp.URL+"/login/password",
		url.Values{"flow": {flow[1]}, "passwd": {"wrong"}})
	require.NoError(t, err)
	page = readBody(t, resp)
	assert.Contains(t, page, "incorrect")

	// Right password leads through both interstitials.
	resp, err = client.PostForm(idp.URL+"/login/password",
		url.Values{"flow": {flow[1]}, "passwd": {"sso-pw"}})
	require.NoError(t, err)
	page = readBody(t, resp)
	require.Contains(t, page, "Stay signed in?")

	resp, err = client.PostForm(idp.URL+"/login/kmsi",
		url.Values{"flow": {flow[1]}, "kmsi": {"No"}})
	require.NoError(t, err)
	page = readBody(t, resp)
	require.Contains(t, page, "Permissions requested")

	resp, err = client.PostForm(idp.URL+"/login/consent",
		url.Values{"flow": {flow[1]}, "consent": {"Accept"}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	callbackURL := resp.Header.Get("Location")
	require.Contains(t, callbackURL, "/api/auth/callback")

	resp, err = client.Get(callbackURL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	finalURL := resp.Header.Get("Location")
	assert.Contains(t, finalURL, "auth_token=")
}

func TestMeShape_NamespacedRoleClaims(t *testing.T) {
	srv, api, _ := newTestStub(t, Options{})

	token, err := srv.MintToken("sso@xevolve.io", "aad")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, api.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := readBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, strings.HasPrefix(strings.TrimSpace(body), "["), "me payload is a list")
	assert.Contains(t, body, `"provider_name":"aad"`)
	assert.Contains(t, body, "http://schemas.microsoft.com/ws/2008/06/identity/claims/role")
	assert.Contains(t, body, `"preferred_username"`)
}

func TestHealthFailureToggle(t *testing.T) {
	srv, api, _ := newTestStub(t, Options{})
	srv.SetHealthFailures(1)

	resp, err := http.Get(api.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(api.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLocalLoginFormAndLogout(t *testing.T) {
	_, api, _ := newTestStub(t, Options{})
	client := noRedirectClient(t)

	resp, err := client.Get(api.URL + "/api/auth/login/local")
	require.NoError(t, err)
	page := readBody(t, resp)
	require.Contains(t, page, `name="email"`)
	require.Contains(t, page, `button type="submit"`)

	resp, err = client.PostForm(api.URL+"/api/auth/login/local", url.Values{
		"email":    {"test@example.com"},
		"password": {"pw"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "auth_token=")

	// Cookie from the login authenticates /api/auth/me.
	resp, err = client.Get(api.URL + "/api/auth/me")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Logout clears it.
	resp, err = client.Get(api.URL + "/api/auth/logout")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp, err = client.Get(api.URL + "/api/auth/me")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLocalLoginRejectsBadPassword(t *testing.T) {
	_, api, _ := newTestStub(t, Options{})
	client := noRedirectClient(t)

	resp, err := client.PostForm(api.URL+"/api/auth/login/local", url.Values{
		"email":    {"test@example.com"},
		"password": {"nope"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
