package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"SocialChatServer/internal/metrics"
	"SocialChatServer/internal/realtime"
	"SocialChatServer/internal/service"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	// Pings are checked by /healthz, keyed by dependency name.
	Pings map[string]func(context.Context) error

	Auth          *service.AuthService
	Friends       *service.FriendsService
	Messages      *service.MessagesService
	Users         *service.UsersService
	Profile       *service.ProfileService
	Notifications *service.NotificationService

	Push           *realtime.Registry
	AllowedOrigins []string
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	api := &api{
		logger:           logger,
		isProd:           opts.IsProd,
		pings:            opts.Pings,
		authSvc:          opts.Auth,
		friendsSvc:       opts.Friends,
		messagesSvc:      opts.Messages,
		usersSvc:         opts.Users,
		profileSvc:       opts.Profile,
		notificationsSvc: opts.Notifications,
		push:             opts.Push,
		allowedOrigins:   opts.AllowedOrigins,
		loginLimiter:     newLoginLimiter(),
	}

	publicMux := http.NewServeMux()
	apiMux := http.NewServeMux()

	handle := func(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.InstrumentHandler(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			noteRoute(r.Context(), pattern)
			h(w, r)
		})))
	}

	publicMux.HandleFunc("GET /healthz", api.handleHealthz)
	publicMux.Handle("GET /metrics", metrics.Handler())

	if api.authSvc == nil {
		apiMux.HandleFunc("/api/", handleNotImplemented)
	} else {
		handle(apiMux, "POST /api/auth/register", api.handleAuthRegister)
		handle(apiMux, "POST /api/auth/login", api.handleAuthLogin)
		handle(apiMux, "POST /api/auth/logout", api.requireAuth(api.handleAuthLogout))
		handle(apiMux, "GET /api/auth/verify-email/{token}", api.handleAuthVerifyEmail)
		if api.authSvc.External != nil && api.authSvc.GoogleClientID != "" {
			handle(apiMux, "POST /api/auth/google", api.handleAuthGoogle)
		}
		if api.authSvc.External != nil && api.authSvc.AppleServiceID != "" {
			handle(apiMux, "POST /api/auth/apple", api.handleAuthApple)
		}

		handle(apiMux, "GET /api/user/profile", api.requireAuth(api.handleUserProfile))
		if api.profileSvc != nil {
			handle(apiMux, "PATCH /api/user/profile", api.requireAuth(api.handleUserProfileUpdate))
			handle(apiMux, "DELETE /api/user/account", api.requireAuth(api.handleUserAccountDelete))
		}
		if api.usersSvc != nil {
			handle(apiMux, "GET /api/user/search", api.requireAuth(api.handleUserSearch))
			handle(apiMux, "GET /api/user/stats", api.requireAuth(api.handleUserStats))
			handle(apiMux, "GET /api/user/{username}", api.requireAuth(api.handleUserByUsername))
		}

		if api.friendsSvc != nil {
			handle(apiMux, "POST /api/friends/request", api.requireAuth(api.handleFriendsSendRequest))
			handle(apiMux, "PATCH /api/friends/request/{id}", api.requireAuth(api.handleFriendsRespond))
			handle(apiMux, "DELETE /api/friends/request/{id}", api.requireAuth(api.handleFriendsCancel))
			handle(apiMux, "GET /api/friends/requests", api.requireAuth(api.handleFriendsReceived))
			handle(apiMux, "GET /api/friends/requests/sent", api.requireAuth(api.handleFriendsSent))
			handle(apiMux, "GET /api/friends", api.requireAuth(api.handleFriendsAll))
			handle(apiMux, "GET /api/friends/list", api.requireAuth(api.handleFriendsList))
			handle(apiMux, "DELETE /api/friends/{friendId}", api.requireAuth(api.handleFriendsUnfriend))
			handle(apiMux, "POST /api/friends/block/{userId}", api.requireAuth(api.handleFriendsBlock))
			handle(apiMux, "DELETE /api/friends/block/{userId}", api.requireAuth(api.handleFriendsUnblock))
			handle(apiMux, "GET /api/friends/blocked", api.requireAuth(api.handleFriendsBlocked))
		}

		if api.messagesSvc != nil {
			handle(apiMux, "POST /api/messages/send", api.requireAuth(api.handleMessagesSend))
			handle(apiMux, "GET /api/messages/conversation/{userId}", api.requireAuth(api.handleMessagesConversation))
			handle(apiMux, "PATCH /api/messages/read/{userId}", api.requireAuth(api.handleMessagesMarkRead))
			handle(apiMux, "GET /api/messages/unread/count", api.requireAuth(api.handleMessagesUnreadCount))
			handle(apiMux, "GET /api/messages/conversations", api.requireAuth(api.handleMessagesConversations))
			handle(apiMux, "DELETE /api/messages/{messageId}", api.requireAuth(api.handleMessagesDelete))
		}

		if api.notificationsSvc != nil {
			handle(apiMux, "POST /api/notifications/tokens", api.requireAuth(api.handleNotificationsTokenUpsert))
			handle(apiMux, "DELETE /api/notifications/tokens", api.requireAuth(api.handleNotificationsTokenDelete))
		}

		if api.messagesSvc != nil && api.push != nil {
			publicMux.HandleFunc("GET /ws", api.handleSocket)
		}
	}

	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := apiMux.Handler(r)
		if pattern == "" {
			handleAPINotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" {
			apiHandler.ServeHTTP(w, r)
			return
		}
		publicMux.ServeHTTP(w, r)
	})

	var h http.Handler = root
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotImplemented, "not_implemented", "not implemented")
}

func handleAPINotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger
	isProd bool

	pings map[string]func(context.Context) error

	authSvc          *service.AuthService
	friendsSvc       *service.FriendsService
	messagesSvc      *service.MessagesService
	usersSvc         *service.UsersService
	profileSvc       *service.ProfileService
	notificationsSvc *service.NotificationService

	push           *realtime.Registry
	allowedOrigins []string

	loginLimiter *loginLimiter
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	for name, ping := range a.pings {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		err := ping(ctx)
		cancel()
		if err != nil {
			a.logger.Warn("health check failed", "dependency", name, "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
