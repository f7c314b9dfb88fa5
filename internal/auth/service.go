package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/store"
)

var (
	// ErrInvalidToken is returned when a bearer token fails validation.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", core.ErrUnauthenticated)
	// ErrUnknownUser is returned when a valid token names a user that does not exist.
	ErrUnknownUser = fmt.Errorf("%w: unknown user", core.ErrUnauthenticated)
)

// Service resolves session credentials to users and issues tokens for existing users.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

var _ core.IdentityResolver = (*Service)(nil)

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// IssueToken returns a signed token for an existing user.
func (s *Service) IssueToken(ctx context.Context, userID store.UserID) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}

	token, err := SignSessionToken(s.jwtConfig, user)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ResolveCurrentUser validates a bearer token and returns the user it names.
// credentials may carry a "Bearer " prefix.
func (s *Service) ResolveCurrentUser(ctx context.Context, credentials string) (store.UserID, error) {
	tokenString := strings.TrimSpace(credentials)
	if after, ok := strings.CutPrefix(tokenString, "Bearer "); ok {
		tokenString = strings.TrimSpace(after)
	}
	if tokenString == "" {
		return 0, fmt.Errorf("%w: missing token", core.ErrUnauthenticated)
	}

	claims, err := ParseSessionToken(s.jwtConfig, tokenString)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, _ := claims.User()

	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownUser
		}
		return 0, fmt.Errorf("get user: %w", err)
	}
	return userID, nil
}
