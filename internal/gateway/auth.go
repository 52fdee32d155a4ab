// Package gateway owns the duplex session channel: token auth, the
// per-user session registry with replace-on-reconnect, heartbeats, the
// bounded outbound queue, and dispatch of incoming events to the owning
// component.
package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ariavoice/aria/internal/domain"
)

// IssueToken mints a signed bearer token for a user.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and returns the user id it names.
func VerifyToken(secret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", domain.ErrUnauthenticated)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token missing subject: %w", domain.ErrUnauthenticated)
	}
	return claims.Subject, nil
}
