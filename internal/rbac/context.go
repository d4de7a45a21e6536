package rbac

import "context"

type roleKey struct{}

// WithRole stores the caller's effective role. The auth middleware sets it
// from the token and may overwrite it with the stored role.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	s, _ := ctx.Value(roleKey{}).(string)
	return s
}
