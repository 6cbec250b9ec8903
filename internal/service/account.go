package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/archon/internal/apperror"
	"github.com/sakif/archon/internal/auth"
	"github.com/sakif/archon/internal/model"
	"github.com/sakif/archon/internal/repository"
)

// AccountService owns platform accounts: email + password sign-up, login
// and session tokens. GitHub is only ever attached to an account through
// OAuthHandshake, never used to sign in.
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// Session bundles the user and a freshly issued token so the handler can
// set the cookie and respond in one step.
type Session struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// Registration is the sign-up input.
type Registration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// Register creates an account and signs it in. A taken email is Duplicate.
func (s *AccountService) Register(ctx context.Context, in Registration) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "a valid email address is required")
	}
	if len(in.Password) < auth.MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password is too long")
	}

	user := &model.User{Email: email, DisplayName: name, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("service/account: creating user: %w", err)
	}
	s.logger.Info("account registered", slog.String("userID", user.ID))
	return s.issue(user)
}

// Login checks the credentials. Unknown email and wrong password produce
// the same Unauthorized error.
func (s *AccountService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("service/account: looking up user: %w", err)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		s.logger.Info("login rejected", slog.String("userID", user.ID))
		return nil, apperror.Unauthorized("invalid email or password")
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

func (s *AccountService) issue(user *model.User) (*Session, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for user %s: %w", user.ID, err)
	}
	return &Session{User: user, Token: token}, nil
}

// Me returns the account behind a validated session.
func (s *AccountService) Me(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("not authenticated")
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Token outlived its account.
			return nil, apperror.Unauthorized("account no longer exists")
		}
		return nil, fmt.Errorf("service/account: fetching user %s: %w", userID, err)
	}
	return user, nil
}
