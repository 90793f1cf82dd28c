package stubrealm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// APIMux serves the Realm backend surface the suite tests against.
func (s *Server) APIMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/auth/login/{provider}", s.handleLogin)
	mux.HandleFunc("POST /api/auth/login/local", s.handleLocalSubmit)
	mux.HandleFunc("GET /api/auth/callback", s.handleCallback)
	mux.HandleFunc("GET /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)
	mux.HandleFunc("GET /api/game-servers", s.handleGameServers)
	mux.HandleFunc("GET /dash", s.handleDash)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	failing := s.healthFailures > 0
	if failing {
		s.healthFailures--
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) postLoginRedirect(r *http.Request) string {
	redirect := r.URL.Query().Get("post_login_redirect_uri")
	if redirect == "" {
		redirect = s.apiURL + "/api/health"
	}
	return redirect
}

// handleLogin initiates login for a named provider. An existing valid
// session short-circuits both flows: the browser is sent straight to the
// redirect target with a fresh token, and the IdP never appears.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	redirect := s.postLoginRedirect(r)

	if identity := s.sessionIdentity(r); identity != nil {
		token, err := s.mintToken(identity.Email, identity.Name, provider, identity.Roles)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}
		s.redirectWithToken(w, r, redirect, "auth_token", token)
		return
	}

	switch provider {
	case "aad":
		s.startSSOLogin(w, r, redirect)
	case "local":
		s.startLocalLogin(w, r, redirect)
	default:
		http.Error(w, fmt.Sprintf("unknown provider %q", provider), http.StatusNotFound)
	}
}

func (s *Server) startSSOLogin(w http.ResponseWriter, r *http.Request, redirect string) {
	if s.oauthCfg == nil {
		http.Error(w, "idp not configured", http.StatusInternalServerError)
		return
	}

	state := uuid.NewString()
	s.mu.Lock()
	s.pendingLogins[state] = redirect
	s.mu.Unlock()

	http.Redirect(w, r, s.oauthCfg.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) startLocalLogin(w http.ResponseWriter, r *http.Request, redirect string) {
	s.mu.Lock()
	auto := s.localAutoLogin
	s.mu.Unlock()

	if auto {
		email := s.firstLocalUser()
		token, err := s.mintToken(email, email, "local", nil)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}
		s.redirectWithToken(w, r, redirect, "access_token", token)
		return
	}

	writeHTML(w, http.StatusOK, fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Sign in to Realm</title></head>
<body>
<h1>Sign in</h1>
<form method="POST" action="/api/auth/login/local">
<input type="hidden" name="post_login_redirect_uri" value="%s">
<input type="text" name="email" placeholder="Email" autofocus>
<input type="password" name="password" placeholder="Password">
<button type="submit">Sign in</button>
</form>
</body></html>`, redirect))
}

func (s *Server) firstLocalUser() string {
	for email := range s.opts.LocalUsers {
		return email
	}
	return "test@example.com"
}

func (s *Server) handleLocalSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	redirect := r.FormValue("post_login_redirect_uri")
	if redirect == "" {
		redirect = s.apiURL + "/api/health"
	}

	s.mu.Lock()
	hash, known := s.localHashes[email]
	s.mu.Unlock()
	if !known || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		writeHTML(w, http.StatusUnauthorized, "<p>Invalid email or password.</p>")
		return
	}

	token, err := s.mintToken(email, email, "local", nil)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}
	s.redirectWithToken(w, r, redirect, "auth_token", token)
}

// handleCallback completes the SSO flow: exchange the code, verify the
// ID token, mint a platform token, and bounce to the stored redirect.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failCallback
	s.mu.Unlock()
	if fail {
		writeHTML(w, http.StatusOK, "<h1>Authentication failed</h1><p>The sign-in request could not be completed.</p>")
		return
	}

	state := r.URL.Query().Get("state")
	s.mu.Lock()
	redirect, ok := s.pendingLogins[state]
	delete(s.pendingLogins, state)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown login state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	oauthToken, err := s.oauthCfg.Exchange(r.Context(), code)
	if err != nil {
		writeHTML(w, http.StatusBadGateway, "<h1>Authentication failed</h1><p>Code exchange was rejected.</p>")
		return
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok {
		writeHTML(w, http.StatusBadGateway, "<h1>Authentication failed</h1><p>No id_token in response.</p>")
		return
	}

	idToken, err := s.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		writeHTML(w, http.StatusUnauthorized, "<h1>Authentication failed</h1><p>ID token verification failed.</p>")
		return
	}

	var claims struct {
		Email             string   `json:"email"`
		Name              string   `json:"name"`
		PreferredUsername string   `json:"preferred_username"`
		Roles             []string `json:"roles"`
	}
	if err := idToken.Claims(&claims); err != nil {
		writeHTML(w, http.StatusBadGateway, "<h1>Authentication failed</h1><p>Unreadable ID token claims.</p>")
		return
	}

	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}

	token, err := s.mintToken(email, claims.Name, "aad", claims.Roles)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}
	log.Info("sso callback complete", "email", email)
	s.redirectWithToken(w, r, redirect, "auth_token", token)
}

// redirectWithToken sets the session cookie and bounces the browser to
// the post-login target with the token in the query string.
func (s *Server) redirectWithToken(w http.ResponseWriter, r *http.Request, redirect, param, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	separator := "?"
	if strings.Contains(redirect, "?") {
		separator = "&"
	}
	http.Redirect(w, r, redirect+separator+param+"="+url.QueryEscape(token), http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, s.postLoginRedirect(r), http.StatusFound)
}

// sessionIdentity resolves the caller's identity from the Authorization
// header or the ambient session cookie. Nil when unauthenticated.
func (s *Server) sessionIdentity(r *http.Request) *tokenIdentity {
	raw := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		raw = strings.TrimPrefix(header, "Bearer ")
	} else if cookie, err := r.Cookie(SessionCookieName); err == nil {
		raw = cookie.Value
	}
	if raw == "" {
		return nil
	}

	identity, err := s.parseToken(raw)
	if err != nil {
		return nil
	}
	return identity
}

// handleMe answers in the Azure Easy Auth shape: a list of identity info
// objects carrying typed claims. The aad variant uses namespaced claim
// types the way the real platform does.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity := s.sessionIdentity(r)
	if identity == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	type claim struct {
		Typ string `json:"typ"`
		Val string `json:"val"`
	}

	var claims []claim
	roleType := "role"
	if identity.Provider == "aad" {
		roleType = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
		claims = append(claims,
			claim{Typ: "preferred_username", Val: identity.PreferredUsername},
			claim{Typ: "name", Val: identity.Name},
		)
	} else {
		claims = append(claims,
			claim{Typ: "email", Val: identity.Email},
			claim{Typ: "name", Val: identity.Name},
		)
	}
	for _, role := range identity.Roles {
		claims = append(claims, claim{Typ: roleType, Val: role})
	}

	payload := []map[string]any{
		{
			"user_id":       identity.Sub,
			"provider_name": identity.Provider,
			"user_claims":   claims,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// handleGameServers is a protected sample endpoint: scenarios use it to
// prove a captured token authorizes real API calls.
func (s *Server) handleGameServers(w http.ResponseWriter, r *http.Request) {
	identity := s.sessionIdentity(r)
	if identity == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data": map[string]any{
			"servers": []map[string]any{
				{"id": "srv-" + identity.Sub[:8], "name": "test-realm", "status": "running"},
			},
			"count": 1,
		},
	})
}

func (s *Server) handleDash(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, http.StatusOK, `<!DOCTYPE html>
<html><head><title>Realm dashboard</title></head>
<body><h1>Realm dashboard</h1><p>Your servers are listed below.</p></body></html>`)
}
