package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	status  int
	body    []byte
	err     error
	lastURL string
	headers map[string]string
}

func (f *fakeGetter) APIGet(_ context.Context, url string, headers map[string]string) (int, []byte, error) {
	f.lastURL = url
	f.headers = headers
	return f.status, f.body, f.err
}

func TestValidate_SuccessfulIdentity(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{status: 200, body: []byte(`[
		{"user_id":"u1","provider_name":"aad","user_claims":[
			{"typ":"email","val":"a@b.com"},
			{"typ":"role","val":"admin"}
		]}
	]`)}
	v := NewSessionValidator(getter, "http://api.example")

	result := v.Validate(context.Background(), "tok-123", "aad")

	require.True(t, result.Success)
	assert.Equal(t, "tok-123", result.Token)
	require.NotNil(t, result.User)
	assert.Equal(t, "a@b.com", result.User.Email)
	assert.Equal(t, []string{"admin"}, result.User.Roles)
	assert.Equal(t, "http://api.example/api/auth/me", getter.lastURL)
	assert.Equal(t, "Bearer tok-123", getter.headers["Authorization"])
}

func TestValidate_EmptyTokenSendsNoAuthorizationHeader(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{status: 401, body: []byte(`{"error":"unauthorized"}`)}
	v := NewSessionValidator(getter, "http://api.example")

	result := v.Validate(context.Background(), "", "local")

	assert.False(t, result.Success)
	_, hasAuth := getter.headers["Authorization"]
	assert.False(t, hasAuth, "ambient-cookie validation must not send a bearer header")
}

func TestValidate_NonOKEmbedsStatus(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{status: 403, body: []byte(`forbidden`)}
	v := NewSessionValidator(getter, "http://api.example")

	result := v.Validate(context.Background(), "tok", "aad")

	assert.False(t, result.Success)
	assert.Equal(t, "tok", result.Token, "token kept for diagnostics")
	assert.Contains(t, result.Err, "403")
	assert.Nil(t, result.User)
}

// A 200 whose body yields no identity is a distinct failure mode from a
// rejected token: the call worked, the shape did not.
func TestValidate_OKButUnparseableBody(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`[]`, `{}`, `"just a string"`, `not json`, ``} {
		getter := &fakeGetter{status: 200, body: []byte(body)}
		v := NewSessionValidator(getter, "http://api.example")

		result := v.Validate(context.Background(), "tok", "aad")

		assert.False(t, result.Success, "body %q", body)
		assert.Equal(t, "tok", result.Token, "body %q", body)
		assert.Contains(t, result.Err, "no usable identity", "body %q", body)
	}
}

func TestValidate_TransportErrorIsUnreachable(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{err: errors.New("connection refused")}
	v := NewSessionValidator(getter, "http://api.example")

	result := v.Validate(context.Background(), "tok", "aad")

	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "unreachable")
	assert.Contains(t, result.Err, "connection refused")
}
