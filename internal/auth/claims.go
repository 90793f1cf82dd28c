package auth

import (
	"encoding/json"
	"strings"
)

// Claim is a typed key/value fact about an identity.
type Claim struct {
	Typ string `json:"typ"`
	Val string `json:"val"`
}

// identityInfo is one element of the identity endpoint's response, in the
// Azure Easy Auth shape.
type identityInfo struct {
	UserID       string  `json:"user_id"`
	ProviderName string  `json:"provider_name"`
	UserClaims   []Claim `json:"user_claims"`
}

// claimTypeMatches reports whether a claim type equals want, either
// exactly or as a namespaced URI ending in "/want". Matching is
// case-sensitive: "Role" does not match "role".
func claimTypeMatches(typ, want string) bool {
	return typ == want || strings.HasSuffix(typ, "/"+want)
}

// claimValue returns the value of the first claim matching any of the
// wanted types, checked in the declared priority order.
func claimValue(claims []Claim, types ...string) string {
	for _, want := range types {
		for _, claim := range claims {
			if claimTypeMatches(claim.Typ, want) {
				return claim.Val
			}
		}
	}
	return ""
}

// roleValues collects every role-typed claim value, preserving source
// order and duplicates.
func roleValues(claims []Claim) []string {
	var roles []string
	for _, claim := range claims {
		if claimTypeMatches(claim.Typ, "role") {
			roles = append(roles, claim.Val)
		}
	}
	return roles
}

// ParseIdentityResponse parses an identity endpoint body into an AuthUser.
// The body is either a non-empty list of identity info objects (the first
// element wins) or a single object. Anything else yields nil.
func ParseIdentityResponse(body []byte, fallbackProvider string) *AuthUser {
	var infos []identityInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		var single identityInfo
		if err := json.Unmarshal(body, &single); err != nil {
			return nil
		}
		infos = []identityInfo{single}
	}
	if len(infos) == 0 {
		return nil
	}
	info := infos[0]
	if info.UserID == "" && len(info.UserClaims) == 0 {
		return nil
	}

	provider := info.ProviderName
	if provider == "" {
		provider = fallbackProvider
	}

	raw := map[string]any{}
	if infoJSON, err := json.Marshal(info); err == nil {
		_ = json.Unmarshal(infoJSON, &raw)
	}

	return &AuthUser{
		ID:       info.UserID,
		Email:    claimValue(info.UserClaims, "email", "preferred_username"),
		Name:     claimValue(info.UserClaims, "name"),
		Provider: provider,
		Roles:    roleValues(info.UserClaims),
		RawData:  raw,
	}
}
