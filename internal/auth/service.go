package auth

import (
	"context"
	"fmt"

	"tv-trading-bot/config"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/logging"
)

// Service handles authentication operations
type Service struct {
	db       *database.DB
	jwt      *JWTManager
	password *PasswordManager
	cfg      config.AuthConfig
	logger   *logging.Logger
}

// NewService creates a new authentication service
func NewService(db *database.DB, cfg config.AuthConfig) *Service {
	return &Service{
		db:       db,
		jwt:      NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration),
		password: NewPasswordManager(DefaultBcryptCost, cfg.MinPasswordLength),
		cfg:      cfg,
		logger:   logging.Default().WithComponent("auth"),
	}
}

// JWTManager exposes the token manager for middleware wiring
func (s *Service) JWTManager() *JWTManager {
	return s.jwt
}

// EnsureAdminUser seeds the configured admin account on first boot.
// An existing account with the configured email is left untouched.
func (s *Service) EnsureAdminUser(ctx context.Context) error {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return nil
	}

	existing, err := s.db.GetUserByEmail(ctx, s.cfg.AdminEmail)
	if err != nil {
		return fmt.Errorf("failed to check admin user: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := s.password.HashPassword(s.cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	user := &database.User{
		Email:        s.cfg.AdminEmail,
		PasswordHash: hash,
		Role:         "admin",
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	s.logger.Info("Seeded admin user", "email", s.cfg.AdminEmail)
	return nil
}

// Login verifies credentials and returns an access token
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.db.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("login lookup failed: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if !s.password.VerifyPassword(req.Password, user.PasswordHash) {
		s.logger.Warn("Failed login attempt", "email", req.Email)
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(UserClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		User: UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Role:      user.Role,
			CreatedAt: user.CreatedAt,
		},
		AccessToken: token,
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
		TokenType:   "Bearer",
	}, nil
}

// ChangePassword verifies the current password and stores a new hash
func (s *Service) ChangePassword(ctx context.Context, userID int64, req ChangePasswordRequest) error {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if !s.password.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := s.password.ValidatePasswordStrength(req.NewPassword); err != nil {
		return ErrWeakPassword
	}

	hash, err := s.password.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	return s.db.UpdateUserPassword(ctx, userID, hash)
}

// GetUser returns the public view of a user
func (s *Service) GetUser(ctx context.Context, userID int64) (*UserResponse, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}, nil
}
