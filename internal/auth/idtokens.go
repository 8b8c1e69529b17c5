package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendrickPhan/go-verify-apple-id-token/validator"
	"google.golang.org/api/idtoken"
)

// ExternalTokenClaims is the identity asserted by a provider id token.
type ExternalTokenClaims struct {
	Issuer  string
	Subject string
	Email   string
}

// IDTokenVerifier checks an id token against the expected audience.
type IDTokenVerifier func(ctx context.Context, token, audience string) (*ExternalTokenClaims, error)

func VerifyGoogleIDToken(ctx context.Context, token, audience string) (*ExternalTokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("missing id token")
	}
	if strings.TrimSpace(audience) == "" {
		return nil, errors.New("missing google client id")
	}

	payload, err := idtoken.Validate(ctx, token, audience)
	if err != nil {
		return nil, err
	}
	if payload.Issuer != "accounts.google.com" && payload.Issuer != "https://accounts.google.com" {
		return nil, fmt.Errorf("unexpected issuer: %s", payload.Issuer)
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, errors.New("google email not verified")
	}

	email, _ := payload.Claims["email"].(string)
	return &ExternalTokenClaims{
		Issuer:  payload.Issuer,
		Subject: payload.Subject,
		Email:   normalizeEmail(email),
	}, nil
}

// VerifyAppleIDToken fetches Apple's signing keys on every call; the
// validator has no context support.
func VerifyAppleIDToken(_ context.Context, token, audience string) (*ExternalTokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("missing id token")
	}
	if strings.TrimSpace(audience) == "" {
		return nil, errors.New("missing apple service id")
	}

	idToken, err := validator.NewClient().VerifyIdToken(audience, token)
	if err != nil {
		return nil, err
	}
	if idToken.Iss != "https://appleid.apple.com" {
		return nil, fmt.Errorf("unexpected issuer: %s", idToken.Iss)
	}
	return &ExternalTokenClaims{
		Issuer:  idToken.Iss,
		Subject: idToken.Sub,
		Email:   normalizeEmail(idToken.Email),
	}, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
