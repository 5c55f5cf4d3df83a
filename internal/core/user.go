package core

import (
	"context"
	"net/http"
	"strings"

	"ticketing/internal/types"
)

// UserResolver extracts the authenticated user id from a request. Identity
// is established upstream (API gateway or auth proxy); the API trusts it.
type UserResolver func(r *http.Request) (string, bool)

// HeaderUserResolver reads the user id from header. An empty header name
// falls back to X-User-ID.
func HeaderUserResolver(header string) UserResolver {
	if header == "" {
		header = "X-User-ID"
	}
	return func(r *http.Request) (string, bool) {
		id := strings.TrimSpace(r.Header.Get(header))
		return id, id != ""
	}
}

// UserMiddleware stores the resolved user id in the request context. It does
// not reject anonymous requests; handlers that need a user call
// CurrentUser.
func UserMiddleware(resolve UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolve != nil {
				if id, ok := resolve(r); ok {
					r = r.WithContext(types.WithUserID(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentUser returns the caller's user id or an auth_user_missing error.
func CurrentUser(ctx context.Context) (string, error) {
	id, ok := types.GetUserID(ctx)
	if !ok || id == "" {
		return "", types.NewAppError(types.ErrCodeAuthUserMissing, "authenticated user required", nil)
	}
	return id, nil
}
