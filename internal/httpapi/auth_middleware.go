package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"SocialChatServer/internal/auth"
	"SocialChatServer/internal/domain"
)

type authCtxKey int

const (
	authUserKey authCtxKey = iota
	authClaimsKey
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a *api) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, claims, err := a.authSvc.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}

		noteUser(r.Context(), u.ID)
		ctx := context.WithValue(r.Context(), authUserKey, u)
		ctx = context.WithValue(ctx, authClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func CurrentUser(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(authUserKey).(domain.User)
	return u, ok
}

func CurrentClaims(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(authClaimsKey).(auth.Claims)
	return c, ok
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
