package auth

import (
	"context"

	"github.com/grumpy-ui/listado/internal/model"
)

type contextKey struct{}

// AuthContext carries the resolved user of a request.
type AuthContext struct {
	User      *model.User
	SessionID int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// UserID returns the authenticated user's id, or "" for anonymous
// requests.
func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok || ac.User == nil {
		return ""
	}
	return ac.User.ID
}

func CurrentUser(ctx context.Context) *model.User {
	ac, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return ac.User
}
