package auth

import (
	"net/url"
)

// tokenParamNames are the recognized token carriers in redirect URLs, in
// priority order. The access-token style names outrank the generic "token"
// so an interstitial page's own token parameter cannot shadow the real one.
var tokenParamNames = []string{"accessToken", "auth_token", "access_token", "token"}

// TokenParamNames returns the recognized token query parameter names in
// priority order.
func TokenParamNames() []string {
	names := make([]string, len(tokenParamNames))
	copy(names, tokenParamNames)
	return names
}

// ExtractTokenFromURL scans a URL's query string for the first recognized
// token parameter. Pure and cheap: safe to call speculatively on every
// response URL a page observes.
func ExtractTokenFromURL(raw string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	query := parsed.Query()
	for _, name := range tokenParamNames {
		if value := query.Get(name); value != "" {
			return value, true
		}
	}
	return "", false
}
