// Package authpw provides name/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"keytao/api/internal/store"
	"keytao/api/internal/util"
)

var (
	// ErrInvalidInput marks validation failures the caller can fix.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNameTaken indicates the login name is already registered.
	ErrNameTaken = errors.New("name already registered")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers unknown names and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid name or password")
	// ErrAccountDisabled means the password was right but an admin has
	// disabled the account.
	ErrAccountDisabled = errors.New("account is disabled")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByName(ctx context.Context, name string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

// Service provides name/password authentication
type Service struct {
	store UserStore
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// RegisterRequest contains registration parameters
type RegisterRequest struct {
	Name        string
	DisplayName string
	Email       string
	Password    string
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{2,32}$`)

// Register creates a new user account with the default contributor role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)

	if name == "" || req.Password == "" {
		return store.User{}, fmt.Errorf("%w: name and password are required", ErrInvalidInput)
	}
	if !nameRe.MatchString(name) {
		return store.User{}, fmt.Errorf("%w: name must be 2-32 letters, digits, _ or -", ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return store.User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if email != "" && !strings.Contains(email, "@") {
		return store.User{}, fmt.Errorf("%w: email address is malformed", ErrInvalidInput)
	}

	existing, err := s.store.GetUserByName(ctx, name)
	if err != nil {
		return store.User{}, fmt.Errorf("look up name: %w", err)
	}
	if existing != nil {
		return store.User{}, ErrNameTaken
	}
	if email != "" {
		byEmail, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return store.User{}, fmt.Errorf("look up email: %w", err)
		}
		if byEmail != nil {
			return store.User{}, ErrEmailTaken
		}
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = name
	}

	user := store.User{
		ID:           util.NewID("user"),
		Name:         name,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
		Status:       store.UserStatusActive,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		// Unique violations can still happen between the lookup and the insert.
		if errors.Is(err, store.ErrUserExists) {
			return store.User{}, ErrNameTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// Login authenticates a user by login name and password.
func (s *Service) Login(ctx context.Context, name, password string) (store.User, error) {
	if name == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return store.User{}, fmt.Errorf("look up name: %w", err)
	}
	if user == nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if user.Status == store.UserStatusDisabled {
		return store.User{}, ErrAccountDisabled
	}

	return *user, nil
}

// HashPassword produces the bcrypt hash stored on a user row. The
// bootstrap admin seed uses it directly.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
