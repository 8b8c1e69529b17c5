package service

import (
	"context"
	"errors"
	"strings"

	"SocialChatServer/internal/domain"
)

type UserDirectoryStore interface {
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	// SearchUsers matches username, first or last name and never returns
	// excludeUserID or users blocked by or blocking it.
	SearchUsers(ctx context.Context, query, excludeUserID string, page domain.Page) ([]domain.UserSummary, int, error)
}

type MessageCounter interface {
	CountSent(ctx context.Context, userID string) (int64, error)
	CountReceived(ctx context.Context, userID string) (int64, error)
}

type UsersService struct {
	Directory     UserDirectoryStore
	Relationships RelationshipQueries
	Messages      MessageCounter
}

func (s *UsersService) Search(ctx context.Context, viewerID, q string, page domain.Page) ([]domain.UserSummary, int, error) {
	q = strings.TrimSpace(q)
	if len(q) < 2 {
		return nil, 0, domain.NewValidationError(map[string]string{"query": "must be at least 2 characters"})
	}
	page, err := normalizePage(page, 10, 50)
	if err != nil {
		return nil, 0, err
	}
	return s.Directory.SearchUsers(ctx, q, viewerID, page)
}

// Profile returns username's public profile annotated with its relationship
// to viewerID. A user who blocked the viewer is reported as not found.
func (s *UsersService) Profile(ctx context.Context, viewerID, username string) (domain.UserProfile, error) {
	u, err := s.Directory.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.UserProfile{}, err
	}

	summary := u.Summary()
	summary.Bio = u.Bio
	out := domain.UserProfile{UserSummary: summary, CreatedAt: u.CreatedAt}
	if u.ID == viewerID {
		return out, nil
	}

	blockedByThem, err := s.Relationships.BlockExists(ctx, u.ID, viewerID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if blockedByThem {
		return domain.UserProfile{}, domain.ErrNotFound
	}
	out.IsBlocked, err = s.Relationships.BlockExists(ctx, viewerID, u.ID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	out.IsFriend, err = s.Relationships.FriendshipExists(ctx, viewerID, u.ID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	req, err := s.Relationships.GetRequestBetween(ctx, viewerID, u.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return domain.UserProfile{}, err
	case req.Status == domain.RequestPending:
		out.HasPendingRequest = true
		out.RequestSentByMe = req.SenderID == viewerID
	}
	return out, nil
}

func (s *UsersService) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	one := domain.Page{Page: 1, Limit: 1}
	_, friends, err := s.Relationships.ListFriends(ctx, userID, "", one)
	if err != nil {
		return domain.UserStats{}, err
	}
	_, pending, err := s.Relationships.ListReceivedRequests(ctx, userID, one)
	if err != nil {
		return domain.UserStats{}, err
	}

	out := domain.UserStats{FriendsCount: friends, PendingRequestsCount: pending}
	if s.Messages != nil {
		if out.MessagesSent, err = s.Messages.CountSent(ctx, userID); err != nil {
			return domain.UserStats{}, err
		}
		if out.MessagesReceived, err = s.Messages.CountReceived(ctx, userID); err != nil {
			return domain.UserStats{}, err
		}
	}
	return out, nil
}
