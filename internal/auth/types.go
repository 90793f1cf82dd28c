// Package auth implements the pluggable authentication providers the
// suite uses to establish a test session: an interactive SSO redirect
// flow ("aad") and a local form login ("local"), behind one interface.
package auth

// AuthUser is an immutable snapshot of an authenticated identity.
type AuthUser struct {
	ID       string
	Email    string
	Name     string
	Provider string
	// Roles preserves source claim order and keeps duplicates; scenarios
	// assert on exactly what the identity endpoint reported.
	Roles []string
	// RawData is the underlying identity payload for scenarios that need
	// provider-specific fields.
	RawData map[string]any
}

// AuthResult is the outcome of any authentication attempt. Terminal
// failures are reported here rather than as raised errors so scenarios
// can assert on Success and Err uniformly.
type AuthResult struct {
	Success bool
	// Token is non-empty whenever Success is true. On some failures it is
	// still set for diagnostics (e.g. a token that failed validation).
	Token string
	// User is set when identity resolution succeeded. Success does not
	// guarantee it: see SessionValidator for the parse-failure contract.
	User *AuthUser
	// Err describes the failure when Success is false.
	Err string
	// RedirectURL is the URL the browser ended on, set whenever known,
	// regardless of success.
	RedirectURL string
}
