package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"SocialChatServer/internal/auth"
	"SocialChatServer/internal/domain"
)

// ExternalUsersStore resolves and links Google and Apple identities.
type ExternalUsersStore interface {
	GetUserByExternal(ctx context.Context, provider, subject string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	LinkExternalAccount(ctx context.Context, userID, provider, subject, email string) error
	// CreateUserWithExternal creates a verified user and its link atomically.
	CreateUserWithExternal(ctx context.Context, nu domain.NewUser, provider, subject string) (domain.User, error)
}

const (
	maxGeneratedUsernameBase = 14
	usernameAttempts         = 5
)

func (s *AuthService) LoginWithGoogle(ctx context.Context, idToken string) (domain.User, string, error) {
	verify := s.VerifyGoogleIDToken
	if verify == nil {
		verify = auth.VerifyGoogleIDToken
	}
	return s.loginWithExternal(ctx, domain.ProviderGoogle, s.GoogleClientID, verify, idToken)
}

func (s *AuthService) LoginWithApple(ctx context.Context, idToken string) (domain.User, string, error) {
	verify := s.VerifyAppleIDToken
	if verify == nil {
		verify = auth.VerifyAppleIDToken
	}
	return s.loginWithExternal(ctx, domain.ProviderApple, s.AppleServiceID, verify, idToken)
}

// loginWithExternal signs in the user linked to the provider identity. An
// unlinked identity is linked to the account with the same email, or a new
// account is created for it.
func (s *AuthService) loginWithExternal(ctx context.Context, provider, audience string, verify auth.IDTokenVerifier, idToken string) (domain.User, string, error) {
	if s.External == nil || audience == "" {
		return domain.User{}, "", fmt.Errorf("%s sign-in not configured", provider)
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return domain.User{}, "", domain.NewValidationError(map[string]string{"idToken": "required"})
	}

	claims, err := verify(ctx, idToken, audience)
	if err != nil {
		s.logger().Debug("id token rejected", "provider", provider, "err", err)
		return domain.User{}, "", domain.ErrInvalidCredentials
	}
	if claims == nil || claims.Subject == "" {
		return domain.User{}, "", domain.ErrInvalidCredentials
	}

	u, err := s.External.GetUserByExternal(ctx, provider, claims.Subject)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		u, err = s.linkOrCreate(ctx, provider, claims)
		if err != nil {
			return domain.User{}, "", err
		}
	default:
		return domain.User{}, "", err
	}

	token, _, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

func (s *AuthService) linkOrCreate(ctx context.Context, provider string, claims *auth.ExternalTokenClaims) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return domain.User{}, domain.NewValidationError(map[string]string{"idToken": "email claim required"})
	}

	existing, err := s.External.GetUserByEmail(ctx, email)
	if err == nil {
		if err := s.External.LinkExternalAccount(ctx, existing.ID, provider, claims.Subject, email); err != nil {
			return domain.User{}, err
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	// The account gets an unusable random password; it signs in through the
	// provider only.
	secret, _, err := auth.NewOpaqueToken()
	if err != nil {
		return domain.User{}, err
	}
	passwordHash, err := auth.HashPassword(secret)
	if err != nil {
		return domain.User{}, err
	}

	for attempt := 0; ; attempt++ {
		username, err := generatedUsername(email)
		if err != nil {
			return domain.User{}, err
		}
		u, err := s.External.CreateUserWithExternal(ctx, domain.NewUser{
			Email:        email,
			Username:     username,
			PasswordHash: passwordHash,
		}, provider, claims.Subject)
		if errors.Is(err, domain.ErrUsernameTaken) && attempt+1 < usernameAttempts {
			continue
		}
		return u, err
	}
}

// generatedUsername derives a valid username from the email local part plus
// a random numeric suffix, e.g. "jane_doe_48213".
func generatedUsername(email string) (string, error) {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '+':
			b.WriteByte('_')
		}
		if b.Len() >= maxGeneratedUsernameBase {
			break
		}
	}
	base := strings.Trim(b.String(), "_")
	if base == "" {
		base = "user"
	}

	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		return "", fmt.Errorf("username suffix: %w", err)
	}
	return fmt.Sprintf("%s_%05d", base, n.Int64()), nil
}
