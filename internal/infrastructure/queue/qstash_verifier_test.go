package queue

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signQStash(t *testing.T, method jwt.SigningMethod, key interface{}, claims qstashClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func claimsFor(body []byte, now time.Time) qstashClaims {
	sum := sha256.Sum256(body)
	return qstashClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Upstash",
			Subject:   "https://hitl.example.com/api/workflows",
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
		},
		Body: base64.URLEncoding.EncodeToString(sum[:]),
	}
}

func TestQStashVerifier(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	body := []byte(`{"workflowId":"wf-1","eventType":"HUMAN_INTERACTION_TIMED_OUT"}`)
	hs256 := jwt.SigningMethodHS256

	v := NewQStashVerifier("current-key", "next-key")
	v.now = func() time.Time { return now }

	t.Run("current key", func(t *testing.T) {
		assert.NoError(t, v.Verify(signQStash(t, hs256, []byte("current-key"), claimsFor(body, now)), body))
	})

	t.Run("next key after rotation", func(t *testing.T) {
		assert.NoError(t, v.Verify(signQStash(t, hs256, []byte("next-key"), claimsFor(body, now)), body))
	})

	t.Run("expiry within clock skew", func(t *testing.T) {
		c := claimsFor(body, now)
		c.ExpiresAt = jwt.NewNumericDate(now.Add(-2 * time.Second))
		assert.NoError(t, v.Verify(signQStash(t, hs256, []byte("current-key"), c), body))
	})

	tests := []struct {
		name  string
		token func() string
		body  []byte
	}{
		{
			name:  "unknown key",
			token: func() string { return signQStash(t, hs256, []byte("other-key"), claimsFor(body, now)) },
			body:  body,
		},
		{
			name:  "tampered body",
			token: func() string { return signQStash(t, hs256, []byte("current-key"), claimsFor(body, now)) },
			body:  []byte(`{"workflowId":"wf-2","eventType":"HUMAN_INTERACTION_TIMED_OUT"}`),
		},
		{
			name: "expired",
			token: func() string {
				c := claimsFor(body, now)
				c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
				return signQStash(t, hs256, []byte("current-key"), c)
			},
			body: body,
		},
		{
			name: "missing expiry",
			token: func() string {
				c := claimsFor(body, now)
				c.ExpiresAt = nil
				return signQStash(t, hs256, []byte("current-key"), c)
			},
			body: body,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := claimsFor(body, now)
				c.Issuer = "someone"
				return signQStash(t, hs256, []byte("current-key"), c)
			},
			body: body,
		},
		{
			name: "unsigned token",
			token: func() string {
				return signQStash(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, claimsFor(body, now))
			},
			body: body,
		},
		{
			name:  "malformed",
			token: func() string { return "not-a-jwt" },
			body:  body,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(tt.token(), tt.body), ErrInvalidSignature)
		})
	}
}

func TestQStashVerifier_NoKeys(t *testing.T) {
	v := NewQStashVerifier("", "")
	assert.ErrorIs(t, v.Verify("a.b.c", nil), ErrInvalidSignature)
}
