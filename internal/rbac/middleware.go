package rbac

import (
	"encoding/json"
	"net/http"
)

var defaultChecker = NewChecker(nil)

// Allowed reports whether role holds perm under the default policy.
func Allowed(role, perm string) bool { return role != "" && defaultChecker.Has(role, perm) }

func forbid(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Insufficient permissions"})
}

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Allowed(RoleFromContext(r.Context()), perm) {
				forbid(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !defaultChecker.Any(role, perms...) {
				forbid(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
