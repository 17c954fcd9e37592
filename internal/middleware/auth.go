// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/michel-DC/Teamify-sub004/internal/auth"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "user_id"
	// ProfileKey is the context key for the caller's profile.
	ProfileKey ContextKey = "profile"
)

// Auth resolves the bearer credential through verifier. Requests without a
// valid credential are rejected before reaching the handler.
func Auth(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, apperrors.CodeUnauthenticated, "missing or malformed authorization header")
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, apperrors.CodeUnauthenticated, apperrors.MessageOf(err))
				return
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.userID = identity.UserID
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// WithIdentity stores a verified identity on ctx.
func WithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, identity.UserID)
	return context.WithValue(ctx, ProfileKey, identity.Profile)
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetProfile gets the caller's profile from context.
func GetProfile(ctx context.Context) auth.Profile {
	if v, ok := ctx.Value(ProfileKey).(auth.Profile); ok {
		return v
	}
	return auth.Profile{}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code apperrors.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Code: string(code)})
}
