//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	"fmt"
	"time"

	"webchat/auth"
	"webchat/errors"
	"webchat/repositories"
)

type IAuthService interface {
	Register(name, password string) error
	Login(name, password string) (Identity, error)
}

// Identity is what a successful login yields: the confirmed account name and
// a signed token the client may present on reconnect.
type Identity struct {
	Name  string
	Token string
}

type AuthService struct {
	userRepository repositories.IUserRepository
	tokenDuration  time.Duration
}

func NewAuthService(repo repositories.IUserRepository, tokenDuration time.Duration) IAuthService {
	return &AuthService{userRepository: repo, tokenDuration: tokenDuration}
}

// Register creates the account without logging the caller in.
func (s *AuthService) Register(name, password string) error {
	// 1. Reject blank credentials before any expensive cryptographic operation.
	if err := auth.ValidateCredentials(auth.Credentials{Username: name, Password: password}); err != nil {
		return err
	}

	// 2. Hash the password using Argon2id.
	// Done in the service layer to keep the repository unaware of plain passwords.
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing failed: %w", err)
	}

	// 3. Persist the account; propagates ErrUserAlreadyExists on a name collision.
	return s.userRepository.CreateUser(name, hashedPassword)
}

// Login verifies credentials against the stored hash. ErrUnknownAccount and
// ErrInvalidCredentials stay distinct so the client can tell "register first"
// apart from "wrong password".
func (s *AuthService) Login(name, password string) (Identity, error) {
	user, err := s.userRepository.GetUserByName(name)
	if err != nil {
		return Identity{}, err
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return Identity{}, errors.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.Name, s.tokenDuration)
	if err != nil {
		return Identity{}, errors.ErrTokenGeneration
	}

	return Identity{Name: user.Name, Token: token}, nil
}
