package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"SocialChatServer/internal/domain"
)

// RelationshipQueries covers friend requests, friendships and blocks. Calls
// made through the argument of RelationshipStore.WithinTx share one
// transaction.
type RelationshipQueries interface {
	AccessStore

	GetRequestBetween(ctx context.Context, userA, userB string) (domain.FriendRequest, error)
	CreateRequest(ctx context.Context, senderID, receiverID string, when time.Time) (domain.FriendRequest, error)
	ReopenRequest(ctx context.Context, requestID, senderID, receiverID string, when time.Time) (domain.FriendRequest, error)
	RespondRequest(ctx context.Context, requestID, receiverID string, status domain.RequestStatus, when time.Time) (domain.FriendRequest, error)
	DeletePendingRequest(ctx context.Context, requestID, senderID string) error
	DeleteRequestsBetween(ctx context.Context, userA, userB string) error

	CreateFriendship(ctx context.Context, userA, userB string, when time.Time) (domain.Friendship, error)
	DeleteFriendship(ctx context.Context, userA, userB string) (bool, error)

	BlockExists(ctx context.Context, blockerID, blockedID string) (bool, error)
	CreateBlock(ctx context.Context, blockerID, blockedID string, when time.Time) (domain.BlockedUser, error)
	DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error)

	ListReceivedRequests(ctx context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error)
	ListSentRequests(ctx context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error)
	ListFriends(ctx context.Context, userID, search string, page domain.Page) ([]domain.Friend, int, error)
	ListAllFriends(ctx context.Context, userID string) ([]domain.Friend, error)
	ListBlocked(ctx context.Context, blockerID string) ([]domain.BlockedUser, error)
}

type RelationshipStore interface {
	RelationshipQueries
	WithinTx(ctx context.Context, fn func(q RelationshipQueries) error) error
}

type FriendUsersStore interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
}

// FriendsService owns the friend request state machine for each user pair:
// none -> pending -> accepted | rejected, rejected -> pending (reopen),
// accepted -> none (unfriend). A block clears the pair from any state.
type FriendsService struct {
	Users         FriendUsersStore
	Relationships RelationshipStore
	Notifier      FriendRequestNotifier
	Logger        *slog.Logger
	Now           func() time.Time
}

func (s *FriendsService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *FriendsService) SendRequest(ctx context.Context, sender domain.User, targetUsername string) (domain.FriendRequest, error) {
	targetUsername = strings.TrimSpace(targetUsername)
	if targetUsername == "" {
		return domain.FriendRequest{}, domain.NewValidationError(map[string]string{"username": "required"})
	}

	target, err := s.Users.GetUserByUsername(ctx, targetUsername)
	if err != nil {
		return domain.FriendRequest{}, err
	}
	if target.ID == sender.ID {
		return domain.FriendRequest{}, domain.NewValidationError(map[string]string{"username": "cannot send a friend request to yourself"})
	}

	var out domain.FriendRequest
	err = s.Relationships.WithinTx(ctx, func(q RelationshipQueries) error {
		friends, err := q.FriendshipExists(ctx, sender.ID, target.ID)
		if err != nil {
			return err
		}
		if friends {
			return domain.ErrAlreadyFriends
		}

		blocked, err := q.BlockBetween(ctx, sender.ID, target.ID)
		if err != nil {
			return err
		}
		if blocked {
			return &domain.DeniedError{Reason: domain.DeniedBlocked}
		}

		existing, err := q.GetRequestBetween(ctx, sender.ID, target.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			out, err = q.CreateRequest(ctx, sender.ID, target.ID, s.now())
			return err
		case err != nil:
			return err
		}

		if existing.Status == domain.RequestPending {
			return domain.ErrAlreadyRequested
		}
		// rejected, or accepted with the friendship since removed
		out, err = q.ReopenRequest(ctx, existing.ID, sender.ID, target.ID, s.now())
		return err
	})
	if err != nil {
		return domain.FriendRequest{}, err
	}

	senderSummary := sender.Summary()
	targetSummary := target.Summary()
	out.Sender = &senderSummary
	out.Receiver = &targetSummary

	s.notify(ctx, FriendRequestNotification{
		RequestID:   out.ID,
		RequesterID: sender.ID,
		AddresseeID: target.ID,
	})
	return out, nil
}

func (s *FriendsService) notify(ctx context.Context, n FriendRequestNotification) {
	if s.Notifier == nil {
		return
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Notifier.NotifyFriendRequest(ctx, n); err != nil {
			logger.Warn("friend request notification failed", "err", err, "request_id", n.RequestID)
		}
	}()
}

// Respond settles a pending request addressed to receiverID. Accepting also
// creates the friendship in the same transaction.
func (s *FriendsService) Respond(ctx context.Context, receiverID, requestID string, action domain.RequestAction) (domain.FriendRequest, error) {
	var status domain.RequestStatus
	switch action {
	case domain.ActionAccept:
		status = domain.RequestAccepted
	case domain.ActionReject:
		status = domain.RequestRejected
	default:
		return domain.FriendRequest{}, domain.NewValidationError(map[string]string{"action": "must be accept or reject"})
	}
	if strings.TrimSpace(requestID) == "" {
		return domain.FriendRequest{}, domain.NewValidationError(map[string]string{"id": "required"})
	}

	var out domain.FriendRequest
	err := s.Relationships.WithinTx(ctx, func(q RelationshipQueries) error {
		when := s.now()
		fr, err := q.RespondRequest(ctx, requestID, receiverID, status, when)
		if err != nil {
			return err
		}
		if status == domain.RequestAccepted {
			if _, err := q.CreateFriendship(ctx, fr.SenderID, fr.ReceiverID, when); err != nil {
				return err
			}
		}
		out = fr
		return nil
	})
	if err != nil {
		return domain.FriendRequest{}, err
	}
	return out, nil
}

func (s *FriendsService) Cancel(ctx context.Context, senderID, requestID string) error {
	if strings.TrimSpace(requestID) == "" {
		return domain.NewValidationError(map[string]string{"id": "required"})
	}
	return s.Relationships.DeletePendingRequest(ctx, requestID, senderID)
}

// Unfriend returns the pair to the none state.
func (s *FriendsService) Unfriend(ctx context.Context, userID, friendID string) error {
	return s.Relationships.WithinTx(ctx, func(q RelationshipQueries) error {
		deleted, err := q.DeleteFriendship(ctx, userID, friendID)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}
		return q.DeleteRequestsBetween(ctx, userID, friendID)
	})
}

// Block removes every request and any friendship between the pair, then
// records the block, all in one transaction.
func (s *FriendsService) Block(ctx context.Context, blockerID, blockedID string) (domain.BlockedUser, error) {
	if blockerID == blockedID {
		return domain.BlockedUser{}, domain.NewValidationError(map[string]string{"userId": "cannot block yourself"})
	}
	target, err := s.Users.GetUserByID(ctx, blockedID)
	if err != nil {
		return domain.BlockedUser{}, err
	}

	var out domain.BlockedUser
	err = s.Relationships.WithinTx(ctx, func(q RelationshipQueries) error {
		exists, err := q.BlockExists(ctx, blockerID, blockedID)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrAlreadyBlocked
		}
		// Requests go first: deleting them waits on a concurrent accept's
		// row lock, so the friendship delete below sees its insert.
		if err := q.DeleteRequestsBetween(ctx, blockerID, blockedID); err != nil {
			return err
		}
		if _, err := q.DeleteFriendship(ctx, blockerID, blockedID); err != nil {
			return err
		}
		out, err = q.CreateBlock(ctx, blockerID, blockedID, s.now())
		return err
	})
	if err != nil {
		return domain.BlockedUser{}, err
	}

	summary := target.Summary()
	out.Blocked = &summary
	return out, nil
}

// Unblock deletes the block edge only; the prior friendship is not restored.
func (s *FriendsService) Unblock(ctx context.Context, blockerID, blockedID string) error {
	deleted, err := s.Relationships.DeleteBlock(ctx, blockerID, blockedID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}

const (
	defaultFriendsPageLimit = 20
	maxFriendsPageLimit     = 100
)

func (s *FriendsService) ListReceived(ctx context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error) {
	page, err := normalizePage(page, defaultFriendsPageLimit, maxFriendsPageLimit)
	if err != nil {
		return nil, 0, err
	}
	return s.Relationships.ListReceivedRequests(ctx, userID, page)
}

func (s *FriendsService) ListSent(ctx context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error) {
	page, err := normalizePage(page, defaultFriendsPageLimit, maxFriendsPageLimit)
	if err != nil {
		return nil, 0, err
	}
	return s.Relationships.ListSentRequests(ctx, userID, page)
}

func (s *FriendsService) ListFriends(ctx context.Context, userID, search string, page domain.Page) ([]domain.Friend, int, error) {
	page, err := normalizePage(page, defaultFriendsPageLimit, maxFriendsPageLimit)
	if err != nil {
		return nil, 0, err
	}
	return s.Relationships.ListFriends(ctx, userID, strings.TrimSpace(search), page)
}

// ListAll returns every friend of userID ordered by username.
func (s *FriendsService) ListAll(ctx context.Context, userID string) ([]domain.Friend, error) {
	friends, err := s.Relationships.ListAllFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	if friends == nil {
		friends = []domain.Friend{}
	}
	return friends, nil
}

func (s *FriendsService) ListBlocked(ctx context.Context, blockerID string) ([]domain.BlockedUser, error) {
	return s.Relationships.ListBlocked(ctx, blockerID)
}
