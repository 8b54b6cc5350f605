// Package auth validates caller JWTs and exposes the authenticated user to
// downstream handlers through the request context.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims this service cares about. The subject is the user
// ID that owns connections; everything else rides on the registered claims.
type Claims struct {
	jwt.RegisteredClaims
}
