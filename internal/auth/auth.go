// Package auth provides account registration, sign-in and token
// verification for the annotation service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/map-annotator/backend/internal/cache"
	"github.com/map-annotator/backend/internal/database"
	"github.com/map-annotator/backend/internal/models"
)

// Claims is the JWT payload for an authenticated session.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Service issues and verifies session tokens backed by the user repository.
// Signed-out tokens are recorded in the cache denylist until they expire, so
// sign-out takes effect server-side, not just on the device.
type Service struct {
	repo   database.Repository
	cache  cache.Cache
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
}

// NewService creates an auth service.
func NewService(repo database.Repository, c cache.Cache, secret string, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  c,
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger,
	}
}

// SignUp registers a new account and returns a signed token for it.
func (s *Service) SignUp(ctx context.Context, req *models.SignUpRequest) (*models.AuthResponse, error) {
	if req.Password != req.ConfirmPassword {
		return nil, &models.AuthError{Op: "signup", Err: models.ErrPasswordMismatch}
	}

	existing, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, &models.AuthError{Op: "signup", Err: err}
	}
	if existing != nil {
		return nil, &models.AuthError{Op: "signup", Err: models.ErrEmailTaken}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, &models.AuthError{Op: "signup", Err: fmt.Errorf("hash password: %w", err)}
	}

	user, err := s.repo.CreateUser(ctx, req.Email, string(hash))
	if err != nil {
		return nil, &models.AuthError{Op: "signup", Err: err}
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, &models.AuthError{Op: "signup", Err: err}
	}

	s.logger.Info("User signed up", zap.String("user_id", user.ID))
	return &models.AuthResponse{Token: token, User: *user}, nil
}

// SignIn authenticates an email/password pair and returns a signed token.
func (s *Service) SignIn(ctx context.Context, req *models.SignInRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, &models.AuthError{Op: "signin", Err: err}
	}
	if user == nil {
		return nil, &models.AuthError{Op: "signin", Err: models.ErrInvalidCredentials}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &models.AuthError{Op: "signin", Err: models.ErrInvalidCredentials}
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, &models.AuthError{Op: "signin", Err: err}
	}

	s.logger.Info("User signed in", zap.String("user_id", user.ID))
	return &models.AuthResponse{Token: token, User: *user}, nil
}

// SignOut invalidates the token for the rest of its lifetime.
func (s *Service) SignOut(ctx context.Context, tokenString string) error {
	claims, err := s.Verify(ctx, tokenString)
	if err != nil {
		return err
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.cache.DenyToken(ctx, claims.ID, ttl); err != nil {
		return &models.AuthError{Op: "signout", Err: fmt.Errorf("%w: %v", models.ErrSignOutUnavailable, err)}
	}

	s.logger.Info("User signed out", zap.String("user_id", claims.UserID))
	return nil
}

// Verify parses and validates a token, rejecting signed-out ones.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, &models.AuthError{Op: "verify", Err: err}
	}
	if !token.Valid {
		return nil, &models.AuthError{Op: "verify", Err: errors.New("token is invalid")}
	}

	denied, err := s.cache.TokenDenied(ctx, claims.ID)
	if err != nil {
		return nil, &models.AuthError{Op: "verify", Err: err}
	}
	if denied {
		return nil, &models.AuthError{Op: "verify", Err: errors.New("token has been signed out")}
	}

	return claims, nil
}

func (s *Service) issueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    "map-annotator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("could not sign token: %w", err)
	}
	return signed, nil
}
