package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/routepulse/routepulse/internal/api/models"
	"github.com/routepulse/routepulse/internal/auth"
)

const authRealm = "routepulse-admin"

type claimsKey struct{}

// TokenVerifier verifies bearer tokens against a scope.
type TokenVerifier interface {
	Verify(token, scope string) (*auth.Claims, error)
}

// RequireScope admits only requests carrying a bearer token that grants
// scope. Failures follow RFC 6750: 401 with a WWW-Authenticate challenge for
// bad tokens, 403 for a missing scope. With no signing key configured the
// admin surface answers 503.
func RequireScope(verifier TokenVerifier, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				challenge(w, "")
				writeAuthProblem(w, r, models.NewUnauthorized, "bearer token required")
				return
			}

			claims, err := verifier.Verify(token, scope)
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrNoSigningKey):
				writeAuthProblem(w, r, models.NewServiceUnavailable, "admin access is disabled")
				return
			case errors.Is(err, auth.ErrInsufficientScope):
				challenge(w, `error="insufficient_scope", scope="`+scope+`"`)
				writeAuthProblem(w, r, models.NewForbidden, "token does not grant "+scope)
				return
			case errors.Is(err, auth.ErrTokenExpired):
				challenge(w, `error="invalid_token", error_description="token expired"`)
				writeAuthProblem(w, r, models.NewUnauthorized, "token has expired")
				return
			default:
				challenge(w, `error="invalid_token"`)
				writeAuthProblem(w, r, models.NewUnauthorized, "invalid token")
				return
			}

			noteSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// bearerToken extracts the token from an Authorization header. The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func challenge(w http.ResponseWriter, params string) {
	v := `Bearer realm="` + authRealm + `"`
	if params != "" {
		v += ", " + params
	}
	w.Header().Set("WWW-Authenticate", v)
}

// writeAuthProblem writes the problem directly; the response package imports
// this one.
func writeAuthProblem(w http.ResponseWriter, r *http.Request, build func(traceID, detail string) *models.Problem, detail string) {
	problem := build(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetClaims returns the verified token claims, or nil outside RequireScope.
func GetClaims(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// GetSubject returns the verified token subject, or "" for anonymous
// requests.
func GetSubject(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}
