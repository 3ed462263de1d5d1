// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/messenger/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ViewerKey is the context key for the authenticated viewer.
	ViewerKey ContextKey = "viewer"
)

// Claims represents JWT claims. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				unauthorized(w, "invalid token")
				return
			}

			viewer := model.Viewer{
				UserID: claims.Subject,
				Email:  claims.Email,
				Name:   claims.Name,
			}
			if !viewer.Valid() {
				unauthorized(w, "token has no subject or email")
				return
			}

			noteViewer(r.Context(), viewer.UserID)
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
		})
	}
}

// IssueToken signs a token for the viewer. Used by tests and the CLI.
func IssueToken(jwtSecret string, viewer model.Viewer, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = viewer.UserID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: claims,
		Email:            viewer.Email,
		Name:             viewer.Name,
	})
	return token.SignedString([]byte(jwtSecret))
}

// WithViewer stores the viewer in the context.
func WithViewer(ctx context.Context, viewer model.Viewer) context.Context {
	return context.WithValue(ctx, ViewerKey, viewer)
}

// GetViewer gets the viewer from context. The zero Viewer means anonymous.
func GetViewer(ctx context.Context) model.Viewer {
	if v, ok := ctx.Value(ViewerKey).(model.Viewer); ok {
		return v
	}
	return model.Viewer{}
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	return GetViewer(ctx).UserID
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"unauthorized","error":"` + message + `"}`))
}
