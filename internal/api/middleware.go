// Package api implements the broker's HTTP surface using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/docbroker/docbroker/internal/auth"
	"github.com/docbroker/docbroker/internal/models"
)

type ctxKey int

const subjectKey ctxKey = iota

// AuthMiddleware returns middleware that requires a valid access token in
// "Authorization: Bearer <token>". A missing token is 401; a token that
// fails verification for any reason is 403.
func AuthMiddleware(authority *auth.Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("Access token required"))
				return
			}
			sub, err := authority.VerifyAccessToken(token)
			if err != nil {
				writeJSON(w, http.StatusForbidden, errorBody("Invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
		})
	}
}

// WithSubject returns a context carrying the authenticated subject.
func WithSubject(ctx context.Context, sub models.Subject) context.Context {
	return context.WithValue(ctx, subjectKey, sub)
}

// SubjectFrom returns the subject stored by AuthMiddleware.
func SubjectFrom(ctx context.Context) (models.Subject, bool) {
	sub, ok := ctx.Value(subjectKey).(models.Subject)
	return sub, ok
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
