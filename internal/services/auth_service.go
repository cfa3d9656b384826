package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

// TokenResponse is the token payload returned to clients.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthService issues the signed tokens the middleware validates. Claims carry
// tenant identity so every downstream read is tenant-scoped.
type AuthService interface {
	GenerateToken(ctx context.Context, userID, tenantID uuid.UUID, isSuperAdmin bool) (*TokenResponse, error)
}

type authService struct {
	jwtSecret string
}

func NewAuthService(jwtSecret string) AuthService {
	return &authService{jwtSecret: jwtSecret}
}

func (s *authService) GenerateToken(_ context.Context, userID, tenantID uuid.UUID, isSuperAdmin bool) (*TokenResponse, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":            userID.String(),
		"tenant_id":      tenantID.String(),
		"is_super_admin": isSuperAdmin,
		"iat":            now.Unix(),
		"exp":            now.Add(tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tokenTTL.Seconds()),
	}, nil
}
