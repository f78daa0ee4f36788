// Package auth issues and verifies the operator tokens that guard the admin
// endpoints. Tokens are HS256 JWTs carrying a list of scopes.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes understood by the admin endpoints.
const (
	ScopeCacheInvalidate = "cache:invalidate"
)

const (
	// DefaultIssuer is the issuer claim of operator tokens.
	DefaultIssuer = "routepulse"

	// DefaultAudience is the audience claim of operator tokens.
	DefaultAudience = "routepulse-admin"

	// DefaultTokenExpiry is how long an issued token is valid.
	DefaultTokenExpiry = 12 * time.Hour

	clockSkew = 30 * time.Second
)

// Predefined token errors.
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token has expired")
	ErrInsufficientScope = errors.New("token lacks the required scope")
	ErrNoSigningKey      = errors.New("no signing key configured")
)

// Claims are the claims of an operator token.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes lists the operations the bearer may perform.
	Scopes []string `json:"scp"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the secret key used to sign tokens.
	SigningKey string

	// Issuer is the issuer claim (default: DefaultIssuer).
	Issuer string

	// Audience is the audience claim (default: DefaultAudience).
	Audience string
}

// TokenService issues and verifies operator tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// Enabled reports whether a signing key is configured.
func (s *TokenService) Enabled() bool {
	return len(s.signingKey) > 0
}

// Issue signs a token for subject granting scopes for ttl.
func (s *TokenService) Issue(subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, ErrNoSigningKey
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates a token and checks that it grants scope. An empty scope
// only validates the token.
func (s *TokenService) Verify(tokenString, scope string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrNoSigningKey
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if scope != "" && !claims.HasScope(scope) {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientScope, scope)
	}
	return claims, nil
}
