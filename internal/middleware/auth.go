package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/OburuO/ville-messenger-app/internal/user"
)

type contextKey string

const principalKey contextKey = "principal"

// TokenValidator is what we need from the user service; the interface keeps
// this package decoupled from it.
type TokenValidator interface {
	ValidateToken(tokenString string) (user.Projection, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Principal returns the authenticated caller stored in the request context.
func Principal(ctx context.Context) (user.Projection, bool) {
	p, ok := ctx.Value(principalKey).(user.Projection)
	return p, ok
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Fallback for websocket clients that cannot set headers.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		principal, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
