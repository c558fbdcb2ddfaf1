package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/vovakirdan/presencebridge/internal/config"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginDisabled is returned when no admin password hash is configured.
	ErrLoginDisabled = errors.New("admin login disabled")
	// ErrInvalidToken is returned for tokens that parse but carry bad claims.
	ErrInvalidToken = errors.New("invalid token claims")
)

// Service authenticates the single configured admin account.
type Service struct {
	username     string
	passwordHash string
	jwtConfig    *JWTConfig
}

// NewService creates a new authentication service.
func NewService(username, passwordHash string, jwtConfig *JWTConfig) *Service {
	return &Service{
		username:     username,
		passwordHash: passwordHash,
		jwtConfig:    jwtConfig,
	}
}

// NewServiceFromConfig builds the service from the admin config section.
func NewServiceFromConfig(cfg config.AdminConfig) *Service {
	return NewService(cfg.Username, cfg.PasswordHash, &JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	})
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(username, password string) (string, error) {
	if s.passwordHash == "" {
		return "", ErrLoginDisabled
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := ComparePassword(s.passwordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, s.username, RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// IssueToken signs a token for the admin without a password check. Used by
// the CLI, which already has access to the config.
func (s *Service) IssueToken() (string, error) {
	return GenerateToken(s.jwtConfig, s.username, RoleAdmin)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
