package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/notifications"
)

const (
	previewLength     = 120
	maxDevicesPerUser = 10
	pushFanout        = 4
)

type NotificationTokensStore interface {
	// RegisterToken upserts token for userID and keeps only the user's keep
	// most recently registered devices.
	RegisterToken(ctx context.Context, userID, token, platform string, when time.Time, keep int) (domain.NotificationToken, error)
	DeleteToken(ctx context.Context, userID, token string) error
	DeleteTokens(ctx context.Context, userID string, tokens []string) (int64, error)
	ListTokens(ctx context.Context, userID string) ([]domain.NotificationToken, error)
}

type NotificationUsersStore interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
}

type PushSender interface {
	Send(ctx context.Context, token string, msg notifications.Message) error
}

type FriendRequestNotification struct {
	RequestID   string
	RequesterID string
	AddresseeID string
}

type FriendRequestNotifier interface {
	NotifyFriendRequest(ctx context.Context, notification FriendRequestNotification) error
}

// MessageNotification reaches a receiver that had no live push connection
// when the message was stored.
type MessageNotification struct {
	MessageID   string
	SenderID    string
	SenderName  string
	ReceiverID  string
	Preview     string
	MessageType domain.MessageType
}

type MessageNotifier interface {
	NotifyNewMessage(ctx context.Context, notification MessageNotification) error
}

// NotificationService manages device tokens and sends offline pushes
// through FCM.
type NotificationService struct {
	Tokens NotificationTokensStore
	Users  NotificationUsersStore
	Sender PushSender
	Logger *slog.Logger
	Now    func() time.Time

	// MaxDevices caps registered devices per user; 0 means 10.
	MaxDevices int
}

func (s *NotificationService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *NotificationService) RegisterToken(ctx context.Context, userID, token, platform string) (domain.NotificationToken, error) {
	if s.Tokens == nil {
		return domain.NotificationToken{}, errors.New("notifications unavailable")
	}
	token = strings.TrimSpace(token)
	platform = strings.TrimSpace(strings.ToLower(platform))
	fields := map[string]string{}
	if token == "" {
		fields["token"] = "required"
	}
	switch platform {
	case "android", "ios":
	case "":
		fields["platform"] = "required"
	default:
		fields["platform"] = "must be ios or android"
	}
	if len(fields) > 0 {
		return domain.NotificationToken{}, domain.NewValidationError(fields)
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	keep := s.MaxDevices
	if keep <= 0 {
		keep = maxDevicesPerUser
	}
	return s.Tokens.RegisterToken(ctx, userID, token, platform, now().UTC().Truncate(time.Millisecond), keep)
}

func (s *NotificationService) DeleteToken(ctx context.Context, userID, token string) error {
	if s.Tokens == nil {
		return errors.New("notifications unavailable")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.NewValidationError(map[string]string{"token": "required"})
	}
	return s.Tokens.DeleteToken(ctx, userID, token)
}

func (s *NotificationService) NotifyFriendRequest(ctx context.Context, n FriendRequestNotification) error {
	if s.Tokens == nil || s.Sender == nil || s.Users == nil {
		return nil
	}
	requester, err := s.Users.GetUserByID(ctx, n.RequesterID)
	if err != nil {
		s.logger().Error("notifications: requester lookup failed", "err", err, "user_id", n.RequesterID)
		return err
	}

	display := displayName(requester)
	payload := map[string]string{
		"type":       "friend_request",
		"senderName": display,
		"username":   requester.Username,
		"requestId":  n.RequestID,
	}
	return s.fanout(ctx, n.AddresseeID, payload, notifications.Notification{
		Title: "Friend request",
		Body:  display + " sent you a friend request.",
	}, "")
}

func (s *NotificationService) NotifyNewMessage(ctx context.Context, n MessageNotification) error {
	if s.Tokens == nil || s.Sender == nil {
		return nil
	}
	body := n.Preview
	if n.MessageType == domain.MessageImage {
		body = "Sent you an image."
	} else if utf8.RuneCountInString(body) > previewLength {
		body = string([]rune(body)[:previewLength]) + "…"
	}
	payload := map[string]string{
		"type":       "new_message",
		"messageId":  n.MessageID,
		"senderId":   n.SenderID,
		"senderName": n.SenderName,
	}
	return s.fanout(ctx, n.ReceiverID, payload, notifications.Notification{
		Title: n.SenderName,
		Body:  body,
	}, "conversation-"+n.SenderID)
}

// fanout sends to every registered device of userID. iOS devices get an
// alert; Android devices get data only and render it themselves. Tokens FCM
// reports as unregistered are deleted in one batch afterwards.
func (s *NotificationService) fanout(ctx context.Context, userID string, data map[string]string, alert notifications.Notification, collapseKey string) error {
	tokens, err := s.Tokens.ListTokens(ctx, userID)
	if err != nil {
		s.logger().Error("notifications: list tokens failed", "err", err, "user_id", userID)
		return err
	}

	dataOnly := notifications.Message{Data: data, CollapseKey: collapseKey}
	withAlert := notifications.Message{Data: data, Notification: &alert, CollapseKey: collapseKey}

	var (
		mu    sync.Mutex
		stale []string
		g     errgroup.Group
	)
	g.SetLimit(pushFanout)
	for _, token := range tokens {
		msg := dataOnly
		if strings.EqualFold(strings.TrimSpace(token.Platform), "ios") {
			msg = withAlert
		}
		g.Go(func() error {
			err := s.Sender.Send(ctx, token.Token, msg)
			switch {
			case err == nil:
			case errors.Is(err, notifications.ErrInvalidToken):
				mu.Lock()
				stale = append(stale, token.Token)
				mu.Unlock()
			default:
				s.logger().Error("notifications: send failed", "err", err, "user_id", userID, "platform", token.Platform)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(stale) > 0 {
		n, err := s.Tokens.DeleteTokens(ctx, userID, stale)
		if err != nil {
			s.logger().Error("notifications: delete invalid tokens failed", "err", err, "user_id", userID)
			return nil
		}
		s.logger().Info("notifications: pruned invalid tokens", "user_id", userID, "count", n)
	}
	return nil
}
