package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type loginRequest struct {
	Username string `json:"username"`
}

// RequireOwner resolves the caller's identity from the login cookie. Requests without
// it are rejected before reaching any session.
func RequireOwner(cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" {
				httpError(w, http.StatusUnauthorized, "authentication_error", "User is not logged in")
				return
			}
			ctx := context.WithValue(r.Context(), ownerKey, c.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext returns the owner placed in ctx by RequireOwner.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

func handleLogin(cookieName string, maxAge time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		username := strings.TrimSpace(req.Username)
		if username == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Username is required")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    username,
			Path:     "/",
			MaxAge:   int(maxAge / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
