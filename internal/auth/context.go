package auth

import "context"

type contextKey struct{}

// AuthContext identifies the dashboard session behind a request. Every
// query is scoped to HouseholdID.
type AuthContext struct {
	HouseholdID int64
	SessionID   int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func HouseholdID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.HouseholdID
}
