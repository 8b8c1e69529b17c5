package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/metrics"
	"SocialChatServer/internal/realtime"
)

const (
	defaultHistoryLimit      = 50
	maxHistoryLimit          = 100
	defaultConversationLimit = 20
	conversationFanout       = 8

	// maxPageOffset bounds page*limit so offsets stay valid SQL and Mongo skips.
	maxPageOffset = math.MaxInt32
)

type MessagesStore interface {
	InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	// ListBetween returns the pair's messages newest first.
	ListBetween(ctx context.Context, userA, userB string, page domain.Page) ([]domain.Message, error)
	CountBetween(ctx context.Context, userA, userB string) (int64, error)
	LatestBetween(ctx context.Context, userA, userB string) (domain.Message, error)
	MarkRead(ctx context.Context, senderID, receiverID string, when time.Time) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
	CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error)
	DeleteBySender(ctx context.Context, messageID, senderID string) error
	CountSent(ctx context.Context, userID string) (int64, error)
	CountReceived(ctx context.Context, userID string) (int64, error)
}

// Pusher delivers an event to every live connection of a user and reports
// how many received it.
type Pusher interface {
	Route(userID, event string, payload any) int
}

type FriendsLister interface {
	ListAllFriends(ctx context.Context, userID string) ([]domain.Friend, error)
}

type SendMessageInput struct {
	ReceiverID  string
	Content     string
	MessageType domain.MessageType
}

// MessagesService is shared by the REST handlers and the push channel. Every
// operation that touches a conversation is gated by Access first, and every
// write is persisted before anything is pushed.
type MessagesService struct {
	Messages MessagesStore
	Access   *AccessService
	Friends  FriendsLister
	Users    FriendUsersStore
	Push     Pusher
	Offline  MessageNotifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *MessagesService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *MessagesService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *MessagesService) route(userID, event string, payload any) int {
	if s.Push == nil {
		return 0
	}
	return s.Push.Route(userID, event, payload)
}

func (s *MessagesService) Send(ctx context.Context, sender domain.User, in SendMessageInput) (domain.Message, error) {
	in.ReceiverID = strings.TrimSpace(in.ReceiverID)
	in.Content = strings.TrimSpace(in.Content)
	if in.MessageType == "" {
		in.MessageType = domain.MessageText
	}

	fields := map[string]string{}
	if in.ReceiverID == "" {
		fields["receiverId"] = "required"
	}
	if n := utf8.RuneCountInString(in.Content); n == 0 || n > domain.MaxMessageLength {
		fields["content"] = "must be 1-1000 characters"
	}
	if !in.MessageType.Valid() {
		fields["messageType"] = "must be text or image"
	}
	if len(fields) > 0 {
		return domain.Message{}, domain.NewValidationError(fields)
	}

	if err := s.Access.Authorize(ctx, sender.ID, in.ReceiverID); err != nil {
		return domain.Message{}, err
	}

	now := s.now()
	msg, err := s.Messages.InsertMessage(ctx, domain.Message{
		SenderID:    sender.ID,
		ReceiverID:  in.ReceiverID,
		Content:     in.Content,
		MessageType: in.MessageType,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Message{}, err
	}

	delivered := s.route(msg.ReceiverID, realtime.EventNewMessage, realtime.NewMessageFrom(msg, sender.Summary()))
	metrics.MessageSent(delivered)
	if delivered == 0 {
		s.notifyOffline(ctx, sender, msg)
	}
	return msg, nil
}

func (s *MessagesService) notifyOffline(ctx context.Context, sender domain.User, msg domain.Message) {
	if s.Offline == nil {
		return
	}
	n := MessageNotification{
		MessageID:   msg.ID,
		SenderID:    sender.ID,
		SenderName:  displayName(sender),
		ReceiverID:  msg.ReceiverID,
		Preview:     msg.Content,
		MessageType: msg.MessageType,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Offline.NotifyNewMessage(ctx, n); err != nil {
			s.logger().Warn("offline message notification failed", "err", err, "message_id", n.MessageID)
		}
	}()
}

func normalizePage(p domain.Page, defLimit, maxLimit int) (domain.Page, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = defLimit
	}
	fields := map[string]string{}
	if p.Page < 1 {
		fields["page"] = "must be >= 1"
	}
	if p.Limit < 1 || p.Limit > maxLimit {
		fields["limit"] = "out of range"
	} else if p.Page > 1 && p.Page-1 > maxPageOffset/p.Limit {
		fields["page"] = "too large"
	}
	if len(fields) > 0 {
		return domain.Page{}, domain.NewValidationError(fields)
	}
	return p, nil
}

// History returns one page of the pair's messages in ascending time order.
// Page 1 holds the most recent messages.
func (s *MessagesService) History(ctx context.Context, userID, otherID string, page domain.Page) (domain.MessagePage, domain.UserSummary, error) {
	page, err := normalizePage(page, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		return domain.MessagePage{}, domain.UserSummary{}, err
	}
	if err := s.Access.Authorize(ctx, userID, otherID); err != nil {
		return domain.MessagePage{}, domain.UserSummary{}, err
	}

	msgs, err := s.Messages.ListBetween(ctx, userID, otherID, page)
	if err != nil {
		return domain.MessagePage{}, domain.UserSummary{}, err
	}
	total, err := s.Messages.CountBetween(ctx, userID, otherID)
	if err != nil {
		return domain.MessagePage{}, domain.UserSummary{}, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	var peer domain.UserSummary
	if s.Users != nil {
		u, err := s.Users.GetUserByID(ctx, otherID)
		if err != nil {
			return domain.MessagePage{}, domain.UserSummary{}, err
		}
		peer = u.Summary()
	}

	return domain.MessagePage{Messages: msgs, Total: int(total), Page: page}, peer, nil
}

// MarkRead flips every unread message from senderID to receiverID. Calling
// it again flips nothing. The sender's connections are told when anything
// changed.
func (s *MessagesService) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return 0, domain.NewValidationError(map[string]string{"userId": "required"})
	}
	n, err := s.Messages.MarkRead(ctx, senderID, receiverID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.route(senderID, realtime.EventMessagesRead, realtime.MessagesRead{ReaderID: receiverID})
	}
	return n, nil
}

func (s *MessagesService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.Messages.CountUnread(ctx, userID)
}

// Conversations lists one entry per friend the user has exchanged messages
// with, most recently active first.
func (s *MessagesService) Conversations(ctx context.Context, userID string, page domain.Page) ([]domain.Conversation, int, error) {
	page, err := normalizePage(page, defaultConversationLimit, maxHistoryLimit)
	if err != nil {
		return nil, 0, err
	}

	friends, err := s.Friends.ListAllFriends(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	slots := make([]*domain.Conversation, len(friends))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conversationFanout)
	for i, f := range friends {
		g.Go(func() error {
			last, err := s.Messages.LatestBetween(gctx, userID, f.ID)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			unread, err := s.Messages.CountUnreadFrom(gctx, f.ID, userID)
			if err != nil {
				return err
			}
			slots[i] = &domain.Conversation{
				Friend:      f.UserSummary,
				LastMessage: last,
				UnreadCount: unread,
				UpdatedAt:   last.CreatedAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	all := make([]domain.Conversation, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			all = append(all, *c)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := len(all)
	start := min(page.Offset(), total)
	end := min(start+page.Limit, total)
	return all[start:end], total, nil
}

// Delete removes a message the requester sent. Anything else, including a
// malformed id, is reported as not found.
func (s *MessagesService) Delete(ctx context.Context, requesterID, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.ErrNotFound
	}
	return s.Messages.DeleteBySender(ctx, messageID, requesterID)
}

// TypingStart and TypingStop are routed only between users allowed to
// message each other; otherwise they are dropped without an error.
func (s *MessagesService) TypingStart(ctx context.Context, from domain.User, receiverID string) error {
	return s.typing(ctx, from, receiverID, true)
}

func (s *MessagesService) TypingStop(ctx context.Context, from domain.User, receiverID string) error {
	return s.typing(ctx, from, receiverID, false)
}

func (s *MessagesService) typing(ctx context.Context, from domain.User, receiverID string, started bool) error {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return domain.NewValidationError(map[string]string{"receiverId": "required"})
	}
	d, err := s.Access.CanMessage(ctx, from.ID, receiverID)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return nil
	}
	if started {
		s.route(receiverID, realtime.EventUserTyping, realtime.UserTyping{UserID: from.ID, Username: from.Username})
	} else {
		s.route(receiverID, realtime.EventUserStoppedTyping, realtime.UserStoppedTyping{UserID: from.ID})
	}
	return nil
}

func displayName(u domain.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Username
	}
	return name
}
