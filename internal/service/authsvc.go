package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"SocialChatServer/internal/auth"
	"SocialChatServer/internal/domain"
)

type UsersStore interface {
	CreateUser(ctx context.Context, u domain.NewUser) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error)
	VerifyEmail(ctx context.Context, tokenHash string) (domain.User, error)
}

// VerificationMailer delivers the raw email verification token to a new
// user.
type VerificationMailer interface {
	SendVerification(ctx context.Context, toEmail, token string) error
}

// TokenBlacklist remembers revoked token ids until they would have expired.
type TokenBlacklist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type AuthService struct {
	Users     UsersStore
	Tokens    *auth.TokenCodec
	Blacklist TokenBlacklist
	Mailer    VerificationMailer
	Logger    *slog.Logger
	Now       func() time.Time

	External            ExternalUsersStore
	GoogleClientID      string
	AppleServiceID      string
	VerifyGoogleIDToken auth.IDTokenVerifier
	VerifyAppleIDToken  auth.IDTokenVerifier
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

type Registration struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

func (s *AuthService) Register(ctx context.Context, reg Registration) (domain.User, string, error) {
	if len(reg.Password) < auth.MinPasswordLength {
		return domain.User{}, "", domain.NewValidationError(map[string]string{"password": "must be at least 8 characters"})
	}
	passwordHash, err := auth.HashPassword(reg.Password)
	if err != nil {
		return domain.User{}, "", err
	}

	nu := domain.NewUser{
		Email:        strings.TrimSpace(strings.ToLower(reg.Email)),
		Username:     strings.TrimSpace(reg.Username),
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(reg.FirstName),
		LastName:     strings.TrimSpace(reg.LastName),
	}
	var verifyToken string
	if s.Mailer != nil {
		if verifyToken, nu.VerificationTokenHash, err = auth.NewOpaqueToken(); err != nil {
			return domain.User{}, "", err
		}
	}

	u, err := s.Users.CreateUser(ctx, nu)
	if err != nil {
		return domain.User{}, "", err
	}
	if verifyToken != "" {
		s.sendVerification(ctx, u, verifyToken)
	}

	token, _, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

// sendVerification runs detached from the request. A failed delivery leaves
// the account usable and unverified.
func (s *AuthService) sendVerification(ctx context.Context, u domain.User, token string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.Mailer.SendVerification(ctx, u.Email, token); err != nil {
			s.logger().Warn("verification email failed", "err", err, "user_id", u.ID)
		}
	}()
}

// VerifyEmail consumes a verification token. Unknown and already used tokens
// yield domain.ErrNotFound.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) (domain.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domain.User{}, domain.NewValidationError(map[string]string{"token": "required"})
	}
	return s.Users.VerifyEmail(ctx, auth.HashOpaqueToken(rawToken))
}

func (s *AuthService) Login(ctx context.Context, login, password string) (domain.User, string, error) {
	login = strings.TrimSpace(login)

	u, err := s.Users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, "", domain.ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}

	ok, err := auth.VerifyPassword(u.PasswordHash, password)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok {
		return domain.User{}, "", domain.ErrInvalidCredentials
	}

	token, _, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return u.User, token, nil
}

// Logout revokes the token until its natural expiry.
func (s *AuthService) Logout(ctx context.Context, claims auth.Claims) error {
	if s.Blacklist == nil {
		return nil
	}
	return s.Blacklist.Revoke(ctx, claims.TokenID, claims.ExpiresAt)
}

// Authenticate verifies a bearer token and loads its user. Missing, invalid,
// expired and revoked tokens all yield domain.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (domain.User, auth.Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.User{}, auth.Claims{}, domain.ErrUnauthorized
	}

	claims, err := s.Tokens.Parse(raw)
	if err != nil {
		return domain.User{}, auth.Claims{}, domain.ErrUnauthorized
	}

	if s.Blacklist != nil {
		revoked, err := s.Blacklist.IsRevoked(ctx, claims.TokenID)
		if err != nil {
			return domain.User{}, auth.Claims{}, err
		}
		if revoked {
			return domain.User{}, auth.Claims{}, domain.ErrUnauthorized
		}
	}

	u, err := s.Users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, auth.Claims{}, domain.ErrUnauthorized
		}
		return domain.User{}, auth.Claims{}, err
	}
	return u, claims, nil
}
