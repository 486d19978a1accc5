package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_IssueAndValidate(t *testing.T) {
	j := NewJWT("test-secret", "classnet", time.Hour)

	token, err := j.Issue("42", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	p, err := j.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "42", Username: "alice"}, p)
}

func TestJWT_Expired(t *testing.T) {
	j := NewJWT("test-secret", "classnet", time.Minute)
	j.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := j.Issue("42", "alice")
	require.NoError(t, err)

	j.now = time.Now
	_, err = j.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWT_Rejects(t *testing.T) {
	j := NewJWT("test-secret", "classnet", time.Hour)

	other, err := NewJWT("other-secret", "classnet", time.Hour).Issue("42", "alice")
	require.NoError(t, err)

	wrongIssuer, err := NewJWT("test-secret", "someone-else", time.Hour).Issue("42", "alice")
	require.NoError(t, err)

	noUsername, err := j.Issue("42", "")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "classnet"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-token",
		"wrong secret":   other,
		"wrong issuer":   wrongIssuer,
		"empty username": noUsername,
		"alg none":       none,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := j.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWT_Authenticate(t *testing.T) {
	j := NewJWT("test-secret", "classnet", time.Hour)
	token, err := j.Issue("7", "bob")
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/chat/math", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		p, err := j.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "bob", p.Username)
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/chat/math?token="+token, nil)

		p, err := j.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "7", p.UserID)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/chat/math", nil)

		_, err := j.Authenticate(r)
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("non-bearer scheme", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/chat/math", nil)
		r.Header.Set("Authorization", "Basic "+token)

		_, err := j.Authenticate(r)
		assert.ErrorIs(t, err, ErrMissingToken)
	})
}
