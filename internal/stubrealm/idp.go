package stubrealm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const idpKeyID = "stub-idp-key"

// IDPMux serves the mock Microsoft-style identity provider: OIDC
// discovery, JWKS, the interactive login pages, and the token endpoint.
// Mount it on its own listener so the login detour crosses hosts.
func (s *Server) IDPMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("GET /jwks", s.handleJWKS)
	mux.HandleFunc("GET /oauth2/authorize", s.handleAuthorize)
	mux.HandleFunc("POST /login/email", s.handleLoginEmail)
	mux.HandleFunc("POST /login/password", s.handleLoginPassword)
	mux.HandleFunc("POST /login/kmsi", s.handleLoginKMSI)
	mux.HandleFunc("POST /login/consent", s.handleLoginConsent)
	mux.HandleFunc("POST /oauth2/token", s.handleToken)
	return mux
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                                s.idpURL,
		"authorization_endpoint":                s.idpURL + "/oauth2/authorize",
		"token_endpoint":                        s.idpURL + "/oauth2/token",
		"jwks_uri":                              s.idpURL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &s.idpKey.PublicKey,
				KeyID:     idpKeyID,
				Algorithm: "RS256",
				Use:       "sig",
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

// handleAuthorize starts an interactive flow: it renders the email page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("client_id") != s.opts.ClientID {
		writeHTML(w, http.StatusBadRequest, "<p>Unknown client</p>")
		return
	}
	redirectURI := query.Get("redirect_uri")
	if redirectURI == "" {
		writeHTML(w, http.StatusBadRequest, "<p>Missing redirect_uri</p>")
		return
	}

	flowID := newOpaqueID()
	s.mu.Lock()
	s.idpFlows[flowID] = &idpFlow{
		state:       query.Get("state"),
		redirectURI: redirectURI,
		createdAt:   time.Now(),
	}
	s.mu.Unlock()

	writeHTML(w, http.StatusOK, fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Sign in to your account</title></head>
<body>
<h1>Sign in</h1>
<form method="POST" action="/login/email">
<input type="hidden" name="flow" value="%s">
<input type="email" name="loginfmt" placeholder="Email, phone, or Skype" autofocus>
<input type="submit" value="Next">
</form>
</body></html>`, flowID))
}

func (s *Server) lookupFlow(r *http.Request) (string, *idpFlow, bool) {
	flowID := r.FormValue("flow")
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.idpFlows[flowID]
	if !ok || time.Since(flow.createdAt) > 10*time.Minute {
		return "", nil, false
	}
	return flowID, flow, true
}

func (s *Server) handleLoginEmail(w http.ResponseWriter, r *http.Request) {
	flowID, flow, ok := s.lookupFlow(r)
	if !ok {
		writeHTML(w, http.StatusBadRequest, "<p>Login flow expired</p>")
		return
	}

	email := r.FormValue("loginfmt")
	if _, known := s.opts.SSOUsers[email]; !known {
		writeHTML(w, http.StatusOK, "<p>We couldn't find an account with that username.</p>")
		return
	}

	s.mu.Lock()
	flow.email = email
	s.mu.Unlock()

	writeHTML(w, http.StatusOK, fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Enter password</title></head>
<body>
<h1>Enter password</h1>
<form method="POST" action="/login/password">
<input type="hidden" name="flow" value="%s">
<input type="password" name="passwd" autofocus>
<input type="submit" value="Sign in">
</form>
</body></html>`, flowID))
}

func (s *Server) handleLoginPassword(w http.ResponseWriter, r *http.Request) {
	flowID, flow, ok := s.lookupFlow(r)
	if !ok {
		writeHTML(w, http.StatusBadRequest, "<p>Login flow expired</p>")
		return
	}

	user, known := s.opts.SSOUsers[flow.email]
	if !known || user.Password != r.FormValue("passwd") {
		writeHTML(w, http.StatusOK, "<p>Your account or password is incorrect.</p>")
		return
	}

	if s.opts.ShowStaySignedIn {
		writeHTML(w, http.StatusOK, fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Stay signed in?</title></head>
<body>
<h1>Stay signed in?</h1>
<p>Do this to reduce the number of times you are asked to sign in.</p>
<form method="POST" action="/login/kmsi">
<input type="hidden" name="flow" value="%s">
<input type="submit" name="kmsi" value="No">
<input type="submit" name="kmsi" value="Yes">
</form>
</body></html>`, flowID))
		return
	}
	s.afterPrompts(w, r, flowID, flow)
}

func (s *Server) handleLoginKMSI(w http.ResponseWriter, r *http.Request) {
	flowID, flow, ok := s.lookupFlow(r)
	if !ok {
		writeHTML(w, http.StatusBadRequest, "<p>Login flow expired</p>")
		return
	}
	s.afterPrompts(w, r, flowID, flow)
}

// afterPrompts renders the consent prompt when enabled, else completes.
func (s *Server) afterPrompts(w http.ResponseWriter, r *http.Request, flowID string, flow *idpFlow) {
	if s.opts.ShowConsent {
		writeHTML(w, http.StatusOK, fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Permissions requested</title></head>
<body>
<h1>Permissions requested</h1>
<p>Realm would like to sign you in and read your profile.</p>
<form method="POST" action="/login/consent">
<input type="hidden" name="flow" value="%s">
<input type="submit" name="consent" value="Accept">
<input type="submit" name="consent" value="Cancel">
</form>
</body></html>`, flowID))
		return
	}
	s.completeFlow(w, r, flowID, flow)
}

func (s *Server) handleLoginConsent(w http.ResponseWriter, r *http.Request) {
	flowID, flow, ok := s.lookupFlow(r)
	if !ok {
		writeHTML(w, http.StatusBadRequest, "<p>Login flow expired</p>")
		return
	}
	if r.FormValue("consent") != "Accept" {
		writeHTML(w, http.StatusOK, "<p>You declined the requested permissions.</p>")
		return
	}
	s.completeFlow(w, r, flowID, flow)
}

// completeFlow issues an authorization code and redirects back to the
// relying party's callback.
func (s *Server) completeFlow(w http.ResponseWriter, r *http.Request, flowID string, flow *idpFlow) {
	code := newOpaqueID()

	s.mu.Lock()
	s.idpCodes[code] = idpGrant{email: flow.email, createdAt: time.Now()}
	delete(s.idpFlows, flowID)
	s.mu.Unlock()

	callback := fmt.Sprintf("%s?code=%s&state=%s",
		flow.redirectURI, url.QueryEscape(code), url.QueryEscape(flow.state))
	log.Debug("idp flow complete", "email", flow.email)
	http.Redirect(w, r, callback, http.StatusFound)
}

// handleToken is the OAuth2 token endpoint: it swaps a code for an
// RS256-signed ID token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	clientID, clientSecret := r.FormValue("client_id"), r.FormValue("client_secret")
	if clientID == "" {
		clientID, clientSecret, _ = r.BasicAuth()
	}
	if clientID != s.opts.ClientID || clientSecret != s.opts.ClientSecret {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}
	if r.FormValue("grant_type") != "authorization_code" {
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}

	code := r.FormValue("code")
	s.mu.Lock()
	grant, ok := s.idpCodes[code]
	delete(s.idpCodes, code)
	s.mu.Unlock()
	if !ok || time.Since(grant.createdAt) > 10*time.Minute {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		return
	}

	idToken, err := s.signIDToken(grant.email)
	if err != nil {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": newOpaqueID(),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

func (s *Server) signIDToken(email string) (string, error) {
	user := s.opts.SSOUsers[email]
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":                s.idpURL,
		"aud":                s.opts.ClientID,
		"sub":                "idp-" + email,
		"email":              email,
		"name":               user.Name,
		"preferred_username": email,
		"roles":              user.Roles,
		"iat":                now.Unix(),
		"exp":                now.Add(10 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = idpKeyID
	return token.SignedString(s.idpKey)
}
