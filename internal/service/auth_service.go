package service

import (
	"context"
	"fmt"
	"time"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"

	"github.com/google/uuid"
)

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	operatorRepo ports.OperatorRepository
	hashSvc      ports.HashService
	tokenSvc     ports.TokenService
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	operatorRepo ports.OperatorRepository,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		operatorRepo: operatorRepo,
		hashSvc:      hashSvc,
		tokenSvc:     tokenSvc,
	}
}

// Register creates a new back-office operator account.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (*domain.Operator, error) {
	if username == "" {
		return nil, apperror.Validation("username is required")
	}
	if len(password) < 8 {
		return nil, apperror.Validation("password must be at least 8 characters")
	}

	existing, err := s.operatorRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check username: %w", err))
	}
	if existing != nil {
		return nil, apperror.Validation("username already exists")
	}

	passwordHash, err := s.hashSvc.Hash(password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	op := &domain.Operator{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.operatorRepo.Create(ctx, op); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create operator: %w", err))
	}

	return op, nil
}

// Login verifies credentials and issues a JWT.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	op, err := s.operatorRepo.GetByUsername(ctx, username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("lookup operator: %w", err))
	}
	if op == nil {
		// Run the hash anyway to keep timing uniform between unknown
		// usernames and wrong passwords.
		_, _ = s.hashSvc.Verify(password, dummyArgon2Hash)
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	ok, err := s.hashSvc.Verify(password, op.PasswordHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !ok {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	token, expiresAt, err := s.tokenSvc.Generate(op.ID, op.Username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	return token, expiresAt, nil
}

// dummyArgon2Hash is a well-formed hash of a random string, used to equalize
// login timing when the username does not exist.
const dummyArgon2Hash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
