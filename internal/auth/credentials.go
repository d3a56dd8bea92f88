package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/feed-system/feed-system/internal/apperr"
	"github.com/feed-system/feed-system/internal/models"
	"github.com/feed-system/feed-system/internal/repository"
)

// CredentialService implements account registration and login: bcrypt
// password hashing, uniqueness checks on register, and bearer token
// issuance on successful login. Failures surface through apperr sentinels
// rather than ad-hoc error strings.
type CredentialService struct {
	users  *repository.UserRepository
	tokens *TokenIssuer
}

func NewCredentialService(users *repository.UserRepository, tokens *TokenIssuer) *CredentialService {
	return &CredentialService{users: users, tokens: tokens}
}

func (s *CredentialService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters: %w", apperr.ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Username: username, Email: email, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, user); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username or email already registered: %w", apperr.ErrConflict)
		}
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and returns a signed bearer token alongside
// the authenticated user.
func (s *CredentialService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, "", fmt.Errorf("invalid username or password: %w", apperr.ErrUnauthorized)
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", fmt.Errorf("invalid username or password: %w", apperr.ErrUnauthorized)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
