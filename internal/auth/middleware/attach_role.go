package auth

import (
	"errors"
	"net/http"

	"github.com/mind-engage/answer-eval/internal/rbac"
	"github.com/mind-engage/answer-eval/internal/user"
)

// AttachRoleFromStore makes the users table authoritative for the role, so a
// demoted account loses access before its token expires.
// allowClaimFallback=true in offline mode; false in online mode.
func AttachRoleFromStore(users UserLookup, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := SubjectFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx)

			u, err := lookupUser(ctx, users, sub)
			switch {
			case err == nil && u.Role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, u.Role)))

			case errors.Is(err, user.ErrNotFound):
				if allowClaimFallback && claimRole != "" {
					next.ServeHTTP(w, r)
					return
				}
				writeDetail(w, http.StatusForbidden, "unknown user")

			default:
				// store unavailable: lenient offline, closed online
				if allowClaimFallback && claimRole != "" {
					next.ServeHTTP(w, r)
					return
				}
				writeDetail(w, http.StatusForbidden, "forbidden")
			}
		})
	}
}
