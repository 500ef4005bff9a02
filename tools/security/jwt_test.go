package security

import (
	"errors"
	"testing"
	"time"

	"PBoard/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions(testSecret)
	tok, exp, err := Generate(opts, 42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(defaultTTL), exp, time.Minute)

	c, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.UserID)
	assert.Equal(t, "alice", c.Username)

	uid, err := NewVerifier(opts).VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func signed(t *testing.T, secret []byte, claims jwtlib.MapClaims) string {
	t.Helper()
	s, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestVerifyFailures(t *testing.T) {
	opts := DefaultOptions(testSecret)
	now := time.Now()

	cases := []struct {
		name  string
		token string
		want  *errs.CodeError
	}{
		{"empty", "", errs.ErrTokenMalformed},
		{"garbage", "not-a-token", errs.ErrTokenMalformed},
		{"expired", signed(t, testSecret, jwtlib.MapClaims{"sub": "1", "exp": now.Add(-time.Minute).Unix()}), errs.ErrTokenExpired},
		{"wrong secret", signed(t, []byte("other"), jwtlib.MapClaims{"sub": "1", "exp": now.Add(time.Hour).Unix()}), errs.ErrTokenSignatureInvalid},
		{"no exp", signed(t, testSecret, jwtlib.MapClaims{"sub": "1"}), errs.ErrTokenMalformed},
		{"bad subject", signed(t, testSecret, jwtlib.MapClaims{"sub": "alice", "exp": now.Add(time.Hour).Unix()}), errs.ErrTokenMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Verify(opts, tc.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, errors.Is(err, errs.ErrAuth))
		})
	}
}

func TestVerifyRejectsOtherAlgorithm(t *testing.T) {
	s, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, jwtlib.MapClaims{
		"sub": "1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions(testSecret), s)
	assert.True(t, errors.Is(err, errs.ErrTokenSignatureInvalid), "got %v", err)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: testSecret, Alg: "RS256"}, 1, "x")
	assert.Error(t, err)
}
