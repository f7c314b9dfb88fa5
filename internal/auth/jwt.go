package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/agora-server/internal/store"
)

// clockSkew is tolerated on exp and iat between instances.
const clockSkew = 30 * time.Second

// Claims is the payload of a session token. The user id travels in sub as a
// decimal string; name is informational and never trusted for access checks.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// User returns the user id carried in sub.
func (c *Claims) User() (store.UserID, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad subject %q", c.Subject)
	}
	return store.UserID(id), nil
}

// JWTConfig holds the HS256 secret and the iss/aud pair every token must carry.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// SignSessionToken issues a token for user that expires after cfg.TTL.
func SignSessionToken(cfg *JWTConfig, user *store.User) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Name: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(int64(user.ID), 10),
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

// ParseSessionToken verifies signature, expiry, issuer and audience and returns the claims.
// Only HS256 is accepted and exp is mandatory.
func ParseSessionToken(cfg *JWTConfig, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if _, err := claims.User(); err != nil {
		return nil, err
	}
	return claims, nil
}
