package service

import (
	"context"

	"SocialChatServer/internal/domain"
)

// AccessStore is the slice of the relationship store the messaging gate needs.
type AccessStore interface {
	FriendshipExists(ctx context.Context, userA, userB string) (bool, error)
	BlockBetween(ctx context.Context, userA, userB string) (bool, error)
}

type Decision struct {
	Allowed bool
	Reason  domain.DeniedReason
}

// AccessService decides whether two users may exchange messages. The answer
// is derived from store reads on every call and never cached.
type AccessService struct {
	Relationships AccessStore
}

// CanMessage is symmetric: two users may message iff they are friends and
// neither has blocked the other.
func (s *AccessService) CanMessage(ctx context.Context, userA, userB string) (Decision, error) {
	if userA == userB {
		return Decision{Reason: domain.DeniedNotFriends}, nil
	}

	blocked, err := s.Relationships.BlockBetween(ctx, userA, userB)
	if err != nil {
		return Decision{}, err
	}
	if blocked {
		return Decision{Reason: domain.DeniedBlocked}, nil
	}

	friends, err := s.Relationships.FriendshipExists(ctx, userA, userB)
	if err != nil {
		return Decision{}, err
	}
	if !friends {
		return Decision{Reason: domain.DeniedNotFriends}, nil
	}
	return Decision{Allowed: true}, nil
}

// Authorize is CanMessage with a denial turned into a *domain.DeniedError.
func (s *AccessService) Authorize(ctx context.Context, userA, userB string) error {
	d, err := s.CanMessage(ctx, userA, userB)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &domain.DeniedError{Reason: d.Reason}
	}
	return nil
}
