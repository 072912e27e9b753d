package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

type claimsKeyType struct{}

var claimsKey = claimsKeyType{}

// ClaimsFrom extracts verified claims from a request context.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// Middleware verifies bearer tokens on every request. Unauthenticated
// requests pass through without claims; handlers that require a role
// reject them via RequireRole. A nil manager disables authentication.
func Middleware(manager *JWTManager) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if manager == nil {
			next(ctx)
			return
		}

		header := ctx.Header("Authorization")
		if header == "" {
			next(ctx)
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			ctx.SetStatus(http.StatusUnauthorized)
			_, _ = ctx.BodyWriter().Write([]byte("Unauthorized"))
			return
		}

		claims, err := manager.VerifyToken(tokenString)
		if err != nil {
			ctx.SetStatus(http.StatusUnauthorized)
			_, _ = ctx.BodyWriter().Write([]byte("Unauthorized"))
			return
		}

		ctx = huma.WithContext(ctx, context.WithValue(ctx.Context(), claimsKey, claims))
		next(ctx)
	}
}

// RequireRole checks the request's claims against a required role.
// With auth disabled (enabled=false) everything is allowed.
func RequireRole(ctx context.Context, enabled bool, required Role) error {
	if !enabled {
		return nil
	}
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return huma.Error401Unauthorized("authentication required")
	}
	if !claims.Role.Allows(required) {
		return huma.Error403Forbidden("insufficient role")
	}
	return nil
}
