package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xevolve/realm-e2e/internal/obs"
)

// APIGetter issues a GET and returns status plus body. Both the browser
// session (cookie-bearing) and the plain HTTP API client satisfy it.
type APIGetter interface {
	APIGet(ctx context.Context, url string, headers map[string]string) (int, []byte, error)
}

// SessionValidator resolves a candidate token (or the ambient session
// cookie) into a user identity via the fixed "who am I" endpoint.
type SessionValidator struct {
	getter  APIGetter
	baseURL string
}

// NewSessionValidator creates a validator bound to an API base URL.
func NewSessionValidator(getter APIGetter, baseURL string) *SessionValidator {
	return &SessionValidator{getter: getter, baseURL: baseURL}
}

// Validate calls GET /api/auth/me with a bearer token. An empty token
// relies on the ambient session cookie instead.
//
// Non-200 maps to a failed result with the status embedded in Err. A 200
// whose body yields no usable identity is reported as a distinct
// identity-parse failure: Success stays false, but the token is kept on
// the result for diagnostics.
func (v *SessionValidator) Validate(ctx context.Context, token, fallbackProvider string) AuthResult {
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	status, body, err := v.getter.APIGet(ctx, v.baseURL+"/api/auth/me", headers)
	if err != nil {
		return AuthResult{Success: false, Token: token, Err: fmt.Sprintf("identity endpoint unreachable: %v", err)}
	}
	if status != http.StatusOK {
		return AuthResult{Success: false, Token: token, Err: fmt.Sprintf("token validation failed: %d", status)}
	}

	user := ParseIdentityResponse(body, fallbackProvider)
	if user == nil {
		obs.From(ctx).Warn("identity endpoint returned 200 with unparseable body", "bytes", len(body))
		return AuthResult{Success: false, Token: token, Err: "identity response has no usable identity"}
	}

	return AuthResult{Success: true, Token: token, User: user}
}
