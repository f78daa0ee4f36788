package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routepulse/routepulse/internal/auth"
)

func newService(key string) *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{SigningKey: key})
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc := newService("test-secret-key-for-testing-only")

	token, expiresAt, err := svc.Issue("ops@example.com", []string{auth.ScopeCacheInvalidate}, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Second)

	claims, err := svc.Verify(token, auth.ScopeCacheInvalidate)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, auth.DefaultIssuer, claims.Issuer)
	assert.True(t, claims.HasScope(auth.ScopeCacheInvalidate))
	_, err = uuid.Parse(claims.ID)
	assert.NoError(t, err, "token ID should be a UUID")
}

func TestTokenService_MissingScope(t *testing.T) {
	svc := newService("test-key")

	token, _, err := svc.Issue("viewer", nil, time.Hour)
	require.NoError(t, err)

	_, err = svc.Verify(token, auth.ScopeCacheInvalidate)
	assert.ErrorIs(t, err, auth.ErrInsufficientScope)

	_, err = svc.Verify(token, "")
	assert.NoError(t, err)
}

func TestTokenService_InvalidToken(t *testing.T) {
	svc := newService("test-key")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token, "")
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestTokenService_WrongSigningKey(t *testing.T) {
	token, _, err := newService("key-one").Issue("ops", []string{auth.ScopeCacheInvalidate}, time.Hour)
	require.NoError(t, err)

	_, err = newService("key-two").Verify(token, auth.ScopeCacheInvalidate)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_WrongAudience(t *testing.T) {
	issuer := auth.NewTokenService(auth.TokenConfig{SigningKey: "k", Audience: "someone-else"})
	token, _, err := issuer.Issue("ops", nil, time.Hour)
	require.NoError(t, err)

	_, err = newService("k").Verify(token, "")
	assert.Error(t, err)
}

func TestTokenService_Disabled(t *testing.T) {
	svc := newService("")
	assert.False(t, svc.Enabled())

	_, _, err := svc.Issue("ops", nil, time.Hour)
	assert.ErrorIs(t, err, auth.ErrNoSigningKey)

	_, err = svc.Verify("anything", "")
	assert.ErrorIs(t, err, auth.ErrNoSigningKey)
}

func signRaw(t *testing.T, method jwt.SigningMethod, key any, claims auth.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTokenService_Expired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	token := signRaw(t, jwt.SigningMethodHS256, []byte("k"), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.DefaultIssuer,
			Audience:  jwt.ClaimStrings{auth.DefaultAudience},
			Subject:   "ops",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
		Scopes: []string{auth.ScopeCacheInvalidate},
	})

	_, err := newService("k").Verify(token, auth.ScopeCacheInvalidate)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_RequiresExpiry(t *testing.T) {
	token := signRaw(t, jwt.SigningMethodHS256, []byte("k"), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   auth.DefaultIssuer,
			Audience: jwt.ClaimStrings{auth.DefaultAudience},
			Subject:  "ops",
		},
		Scopes: []string{auth.ScopeCacheInvalidate},
	})

	_, err := newService("k").Verify(token, auth.ScopeCacheInvalidate)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_RejectsUnsignedToken(t *testing.T) {
	token := signRaw(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.DefaultIssuer,
			Audience:  jwt.ClaimStrings{auth.DefaultAudience},
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: []string{auth.ScopeCacheInvalidate},
	})

	_, err := newService("k").Verify(token, auth.ScopeCacheInvalidate)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_DefaultTTL(t *testing.T) {
	_, expiresAt, err := newService("k").Issue("ops", nil, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenExpiry), expiresAt, time.Second)
}
