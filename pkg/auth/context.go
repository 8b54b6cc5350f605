package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

// ClaimsKey is the context key under which the middleware stores the claims.
const ClaimsKey contextKey = "auth_claims"

// GetClaims extracts the claims from the context, if present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// RequireUserID extracts the authenticated user's ID from the context.
func RequireUserID(ctx context.Context) (uuid.UUID, error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.Subject == "" {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not a valid user ID: %w", err)
	}
	return userID, nil
}
