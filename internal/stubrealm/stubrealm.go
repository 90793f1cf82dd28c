// Package stubrealm is a local stand-in for the Realm backend and its
// identity provider, so the suite's own tests run hermetically. It serves
// the auth surface the providers drive (login, callback, logout, me) and
// a Microsoft-style interactive login with the optional "Stay signed in?"
// and consent interstitials.
package stubrealm

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/xevolve/realm-e2e/internal/obs"
)

var log = obs.Pkg("stubrealm")

// SessionCookieName is the ambient session carrier the backend sets
// after a successful login.
const SessionCookieName = "session_token"

// SSOUser is a test identity known to the stub IdP.
type SSOUser struct {
	Password string
	Name     string
	Roles    []string
}

// Options configures the stub at construction time.
type Options struct {
	ClientID     string
	ClientSecret string

	// LocalUsers maps email to plaintext password; hashed at startup.
	LocalUsers map[string]string
	// SSOUsers maps email to the identity the IdP asserts.
	SSOUsers map[string]SSOUser

	// Interstitial prompts shown after the IdP password step.
	ShowStaySignedIn bool
	ShowConsent      bool
}

// Server holds all stub state. Mount APIMux and IDPMux on separate
// listeners so the IdP gets its own host, the way the real flow crosses
// domains.
type Server struct {
	opts Options

	apiURL string
	idpURL string

	tokenSecret []byte
	idpKey      *rsa.PrivateKey

	oauthCfg *oauth2.Config
	verifier *oidc.IDTokenVerifier

	mu             sync.Mutex
	localHashes    map[string][]byte
	pendingLogins  map[string]string // oauth state -> post_login_redirect_uri
	idpFlows       map[string]*idpFlow
	idpCodes       map[string]idpGrant
	healthFailures int
	failCallback   bool
	localAutoLogin bool
}

type idpFlow struct {
	state       string
	redirectURI string
	email       string
	createdAt   time.Time
}

type idpGrant struct {
	email     string
	createdAt time.Time
}

// New creates a stub server. Call SetURLs once both listeners are up.
func New(opts Options) (*Server, error) {
	if opts.ClientID == "" {
		opts.ClientID = "realm-e2e-client"
	}
	if opts.ClientSecret == "" {
		opts.ClientSecret = "realm-e2e-secret"
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate idp signing key: %w", err)
	}

	hashes := make(map[string][]byte, len(opts.LocalUsers))
	for email, password := range opts.LocalUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", email, err)
		}
		hashes[email] = hash
	}

	return &Server{
		opts:          opts,
		tokenSecret:   secret,
		idpKey:        key,
		localHashes:   hashes,
		pendingLogins: make(map[string]string),
		idpFlows:      make(map[string]*idpFlow),
		idpCodes:      make(map[string]idpGrant),
	}, nil
}

// SetURLs wires the OAuth client and ID-token verifier once the API and
// IdP base URLs are known. The IdP must already be serving discovery.
func (s *Server) SetURLs(ctx context.Context, apiURL, idpURL string) error {
	s.apiURL = strings.TrimRight(apiURL, "/")
	s.idpURL = strings.TrimRight(idpURL, "/")

	provider, err := oidc.NewProvider(ctx, s.idpURL)
	if err != nil {
		return fmt.Errorf("discover idp at %s: %w", s.idpURL, err)
	}

	s.verifier = provider.Verifier(&oidc.Config{ClientID: s.opts.ClientID})
	s.oauthCfg = &oauth2.Config{
		ClientID:     s.opts.ClientID,
		ClientSecret: s.opts.ClientSecret,
		RedirectURL:  s.apiURL + "/api/auth/callback",
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
	return nil
}

// SetHealthFailures makes the next n health probes answer 503.
func (s *Server) SetHealthFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthFailures = n
}

// SetFailCallback makes the OAuth callback render an error page instead
// of redirecting with a token.
func (s *Server) SetFailCallback(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCallback = fail
}

// SetLocalAutoLogin makes the local login endpoint skip its form and
// redirect immediately with a token for the first configured local user.
func (s *Server) SetLocalAutoLogin(auto bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localAutoLogin = auto
}

// MintToken issues a platform access token directly, for tests that seed
// an authenticated state without driving a login flow.
func (s *Server) MintToken(email, provider string) (string, error) {
	name := email
	var roles []string
	if u, ok := s.opts.SSOUsers[email]; ok && provider == "aad" {
		name = u.Name
		roles = u.Roles
	}
	return s.mintToken(email, name, provider, roles)
}

func (s *Server) mintToken(email, name, provider string, roles []string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":                uuid.NewString(),
		"email":              email,
		"name":               name,
		"preferred_username": email,
		"idp":                provider,
		"roles":              roles,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.tokenSecret)
}

type tokenIdentity struct {
	Sub               string
	Email             string
	Name              string
	PreferredUsername string
	Provider          string
	Roles             []string
}

func (s *Server) parseToken(raw string) (*tokenIdentity, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.tokenSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	identity := &tokenIdentity{
		Sub:               stringClaim(claims, "sub"),
		Email:             stringClaim(claims, "email"),
		Name:              stringClaim(claims, "name"),
		PreferredUsername: stringClaim(claims, "preferred_username"),
		Provider:          stringClaim(claims, "idp"),
	}
	if rawRoles, ok := claims["roles"].([]any); ok {
		for _, r := range rawRoles {
			if role, ok := r.(string); ok {
				identity.Roles = append(identity.Roles, role)
			}
		}
	}
	return identity, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

func newOpaqueID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
