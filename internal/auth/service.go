package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/versatiles/printops/internal/users"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
)

type Service struct {
	jwt         *JWTManager
	users       *users.Service
	redisClient *redis.Client
}

func NewService(jwt *JWTManager, userSvc *users.Service, redisClient *redis.Client) *Service {
	return &Service{
		jwt:         jwt,
		users:       userSvc,
		redisClient: redisClient,
	}
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, *users.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("getting user by email: %w", err)
	}
	if user == nil {
		return nil, nil, ErrInvalidCredentials
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrAccountDisabled
	}

	token, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, nil, err
	}
	if err := s.redisClient.Del(ctx, revokedKey(user.ID)).Err(); err != nil {
		slog.Warn("clearing token revocation", "user_id", user.ID, "error", err)
	}
	s.users.RecordLogin(ctx, user.ID)
	return token, user, nil
}

// Revoke invalidates every outstanding access token of a user until they
// next log in. Used when an account is deactivated.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID) error {
	if err := s.redisClient.Set(ctx, revokedKey(userID), "1", s.jwt.AccessExpiry()).Err(); err != nil {
		return fmt.Errorf("revoking tokens: %w", err)
	}
	return nil
}

// IsRevoked fails open when Redis is unreachable.
func (s *Service) IsRevoked(ctx context.Context, userID uuid.UUID) bool {
	n, err := s.redisClient.Exists(ctx, revokedKey(userID)).Result()
	if err != nil {
		slog.Warn("auth: revocation check failed, allowing request", "error", err)
		return false
	}
	return n > 0
}

func (s *Service) ValidateAccessToken(token string) (*AccessClaims, error) {
	return s.jwt.ValidateAccessToken(token)
}

func revokedKey(userID uuid.UUID) string {
	return "auth:revoked:" + userID.String()
}
