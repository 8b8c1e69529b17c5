package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"SocialChatServer/internal/auth"
	"SocialChatServer/internal/config"
	"SocialChatServer/internal/email"
	"SocialChatServer/internal/httpapi"
	"SocialChatServer/internal/notifications"
	"SocialChatServer/internal/realtime"
	"SocialChatServer/internal/service"
	mongostore "SocialChatServer/internal/store/mongo"
	"SocialChatServer/internal/store/postgres"
	redisstore "SocialChatServer/internal/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()
	push := realtime.NewRegistry(logger)
	pings := map[string]func(context.Context) error{}

	var (
		authSvc          *service.AuthService
		friendsSvc       *service.FriendsService
		messagesSvc      *service.MessagesService
		usersSvc         *service.UsersService
		profileSvc       *service.ProfileService
		notificationsSvc *service.NotificationService
	)

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pgPool.Close()
		if err := postgres.EnsureSchema(ctx, pgPool); err != nil {
			logger.Error("db schema failed", "err", err)
			os.Exit(1)
		}
		pings["postgres"] = pgPool.Ping

		users := postgres.NewUsersStore(pgPool)
		relationships := postgres.NewRelationshipsStore(pgPool)

		authSvc = &service.AuthService{
			Users:  users,
			Tokens: auth.NewTokenCodec([]byte(cfg.JWTSecret), cfg.TokenTTL),
			Logger: logger,

			External:       users,
			GoogleClientID: cfg.GoogleClientID,
			AppleServiceID: cfg.AppleServiceID,
		}
		if cfg.SMTPHost != "" {
			authSvc.Mailer = &email.Mailer{
				Settings: email.SMTPSettings{
					Host:     cfg.SMTPHost,
					Port:     cfg.SMTPPort,
					Username: cfg.SMTPUsername,
					Password: cfg.SMTPPassword,
					TLSMode:  cfg.SMTPTLSMode,
				},
				FromName:  cfg.MailFromName,
				FromEmail: cfg.MailFrom,
				PublicURL: cfg.PublicURL,
			}
			logger.Info("email verification enabled", "smtp_host", cfg.SMTPHost)
		}
		if cfg.RedisURL != "" {
			rdb, err := redisstore.Open(ctx, cfg.RedisURL)
			if err != nil {
				logger.Error("redis open failed", "err", err)
				os.Exit(1)
			}
			defer rdb.Close()
			blacklist := redisstore.NewTokenBlacklist(rdb)
			authSvc.Blacklist = blacklist
			pings["redis"] = blacklist.Ping
		} else {
			logger.Warn("token revocation disabled", "reason", "APP_REDIS_URL not set")
		}

		notificationsSvc = &service.NotificationService{
			Tokens: postgres.NewNotificationTokensStore(pgPool),
			Users:  users,
			Logger: logger,
		}
		if cfg.FCMCredentials != "" {
			sender, err := notifications.NewFCMSender(ctx, cfg.FCMProjectID, cfg.FCMCredentials)
			if err != nil {
				logger.Error("fcm init failed", "err", err)
				os.Exit(1)
			}
			notificationsSvc.Sender = sender
			logger.Info("offline push enabled")
		}

		friendsSvc = &service.FriendsService{
			Users:         users,
			Relationships: relationships,
			Notifier:      notificationsSvc,
			Logger:        logger,
		}
		usersSvc = &service.UsersService{
			Directory:     users,
			Relationships: relationships,
		}
		profileSvc = &service.ProfileService{
			Store:  users,
			Logger: logger,
		}

		if cfg.MongoURI != "" {
			client, err := mongostore.Connect(ctx, cfg.MongoURI)
			if err != nil {
				logger.Error("mongo connect failed", "err", err)
				os.Exit(1)
			}
			defer func() {
				dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(dctx)
			}()
			messages := mongostore.NewMessagesStore(client.Database(cfg.MongoDB))
			if err := messages.EnsureIndexes(ctx); err != nil {
				logger.Error("mongo indexes failed", "err", err)
				os.Exit(1)
			}
			pings["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

			messagesSvc = &service.MessagesService{
				Messages: messages,
				Access:   &service.AccessService{Relationships: relationships},
				Friends:  relationships,
				Users:    users,
				Push:     push,
				Offline:  notificationsSvc,
				Logger:   logger,
			}
			usersSvc.Messages = messages
			profileSvc.Messages = messages
		} else {
			logger.Warn("messaging disabled", "reason", "APP_MONGO_URI not set")
		}
	} else {
		logger.Warn("api disabled", "reason", "APP_DB_DSN not set")
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterOpts{
			Logger:         logger,
			IsProd:         cfg.IsProd(),
			Pings:          pings,
			Auth:           authSvc,
			Friends:        friendsSvc,
			Messages:       messagesSvc,
			Users:          usersSvc,
			Profile:        profileSvc,
			Notifications:  notificationsSvc,
			Push:           push,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Shutdown does not wait for hijacked websocket connections.
		_ = srv.Shutdown(ctx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
