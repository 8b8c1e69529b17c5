package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"SocialChatServer/internal/auth"
	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/service"
)

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type authResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
}

func (a *api) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONAllowUnknownFields(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	fields := map[string]string{}
	req.Username = normalizeUsername(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !validUsername(req.Username) {
		fields["username"] = "must be 3-20 chars [A-Za-z0-9_]"
	}
	if !validEmail(req.Email) {
		fields["email"] = "must be a valid email address"
	}
	if len(req.Password) < auth.MinPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}
	if len(strings.TrimSpace(req.FirstName)) > 50 {
		fields["firstName"] = "must be at most 50 characters"
	}
	if len(strings.TrimSpace(req.LastName)) > 50 {
		fields["lastName"] = "must be at most 50 characters"
	}
	if len(fields) > 0 {
		WriteDomainError(w, domain.NewValidationError(fields))
		return
	}

	u, token, err := a.authSvc.Register(r.Context(), service.Registration{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msg := "User registered successfully"
	if a.authSvc.Mailer != nil {
		msg += ". Please check your email for verification."
	}
	WriteJSON(w, http.StatusCreated, authResponse{Message: msg, Token: token, User: u})
}

type verifyEmailResponse struct {
	Message string      `json:"message"`
	User    domain.User `json:"user"`
}

func (a *api) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	u, err := a.authSvc.VerifyEmail(r.Context(), r.PathValue("token"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, verifyEmailResponse{Message: "Email verified successfully", User: u})
}

type loginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *api) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	login := strings.TrimSpace(req.Login)
	if login == "" {
		login = strings.TrimSpace(req.Email)
	}
	if login == "" || req.Password == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"login": "required", "password": "required"}))
		return
	}

	now := time.Now()
	if !a.loginLimiter.Allow("ip:"+clientIP(r), now) || !a.loginLimiter.Allow("login:"+strings.ToLower(login), now) {
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	}

	u, token, err := a.authSvc.Login(r.Context(), login, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, authResponse{Message: "Login successful", Token: token, User: u})
}

type externalLoginRequest struct {
	IDToken string `json:"idToken"`
}

func (a *api) handleAuthGoogle(w http.ResponseWriter, r *http.Request) {
	a.externalLogin(w, r, a.authSvc.LoginWithGoogle)
}

func (a *api) handleAuthApple(w http.ResponseWriter, r *http.Request) {
	a.externalLogin(w, r, a.authSvc.LoginWithApple)
}

func (a *api) externalLogin(w http.ResponseWriter, r *http.Request, login func(context.Context, string) (domain.User, string, error)) {
	var req externalLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadJSON(w)
		return
	}
	if !a.loginLimiter.Allow("ip:"+clientIP(r), time.Now()) {
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	}

	u, token, err := login(r.Context(), req.IDToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, authResponse{Message: "Login successful", Token: token, User: u})
}

func (a *api) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := CurrentClaims(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.authSvc.Logout(r.Context(), claims); err != nil {
		a.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out successfully")
}
