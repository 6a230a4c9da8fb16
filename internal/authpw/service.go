// Package authpw implements email/password authentication for corkboard
// accounts, including email verification and password resets.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"corkboard/api/internal/store"
	"corkboard/api/internal/util"
)

const (
	minPasswordLen    = 8
	verificationTTL   = 24 * time.Hour
	passwordResetTTL  = time.Hour
	defaultSignUpRole = "member"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the slice of the store the auth flows need.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

// Service holds the auth flows. New accounts start as members so they can
// read, write, and sync their own scraps.
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest carries the fields a new account needs.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUpResult reports the created account and its verification token. The
// token goes out by email, never in the API response.
type SignUpResult struct {
	UserID            string
	VerificationToken string
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return nil, errors.New("email, password, and display name are required")
	}
	if len(req.Password) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationToken, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	user := store.User{
		ID:                util.NewID("user"),
		DisplayName:       req.DisplayName,
		Email:             req.Email,
		PasswordHash:      string(hash),
		Role:              defaultSignUpRole,
		VerificationToken: verificationToken,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, verificationToken, time.Now().Add(verificationTTL)); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}

	return &SignUpResult{UserID: user.ID, VerificationToken: verificationToken}, nil
}

// SignIn checks credentials and returns the stored user. Unverified accounts
// are reported via NeedsVerify so the handler can prompt a resend instead of
// issuing a session.
type SignInResult struct {
	User        store.User
	NeedsVerify bool
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &SignInResult{User: user, NeedsVerify: !user.IsEmailVerified}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// RequestPasswordReset issues a reset token for the account, or an empty
// token when the email is unknown so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, time.Now().Add(passwordResetTTL)); err != nil {
		return "", fmt.Errorf("create password reset: %w", err)
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}

	userID, err := s.store.GetPasswordReset(ctx, token)
	if err != nil {
		return ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	// The password is already changed; a failure here only leaves a spent
	// token behind.
	_ = s.store.MarkPasswordResetUsed(ctx, token)

	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
