// Package auth issues and verifies session tokens for hub users and puts
// the resulting identity on the request context.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nonomal/mcphub-sub001/pkg/types"
)

// DefaultSessionLifetime is how long a login stays valid.
const DefaultSessionLifetime = 24 * time.Hour

var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are the claims of a hub session token. The subject is the
// username.
type SessionClaims struct {
	IsAdmin bool `json:"isAdmin"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 session tokens.
type JWTManager struct {
	signingKey []byte
	lifetime   time.Duration
	now        func() time.Time
}

func NewJWTManager(signingKey []byte) *JWTManager {
	return &JWTManager{
		signingKey: signingKey,
		lifetime:   DefaultSessionLifetime,
		now:        time.Now,
	}
}

// Issue returns a signed session token for the user.
func (j *JWTManager) Issue(user *types.Identity) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.lifetime)
	claims := SessionClaims{
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of token and returns its identity.
func (j *JWTManager) Verify(token string) (*types.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	}, jwt.WithTimeFunc(j.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}
	return &types.Identity{Username: claims.Subject, IsAdmin: claims.IsAdmin}, nil
}
