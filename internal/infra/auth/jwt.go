// Package auth verifies bearer tokens issued by the account service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bryanwahyu/healthmate/internal/domain/identity"
)

// ErrNoSubject is returned when a valid token carries no usable user claim.
var ErrNoSubject = errors.New("token has no user claim")

// userClaims are checked in order; the first non-empty string wins.
var userClaims = []string{"user_id", "sub", "id"}

// JWTResolver implements identity.Resolver for HMAC signed JWTs.
type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Resolve never fails: malformed or expired tokens produce an Invalid identity and
// the caller decides whether that is fatal.
func (r *JWTResolver) Resolve(_ context.Context, token string) identity.Identity {
	token = strings.TrimSpace(token)
	if token == "" {
		return identity.NewAnonymous()
	}
	claims, err := r.verify(token)
	if err != nil {
		return identity.NewInvalid(err)
	}
	for _, key := range userClaims {
		if v, ok := claims[key]; ok {
			if s := claimString(v); s != "" {
				return identity.NewResolved(s)
			}
		}
	}
	return identity.NewInvalid(ErrNoSubject)
}

func (r *JWTResolver) verify(tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// claimString accepts string ids and the numeric ids some issuers emit.
func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
