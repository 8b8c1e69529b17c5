package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"SocialChatServer/internal/domain"
)

const maxNameLength = 50

type ProfileStore interface {
	UpdateProfile(ctx context.Context, userID string, p domain.ProfileUpdate) (domain.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// MessageEraser drops a user's message history from the document store.
type MessageEraser interface {
	DeleteForUser(ctx context.Context, userID string) (int64, error)
}

type ProfileService struct {
	Store    ProfileStore
	Messages MessageEraser
	Logger   *slog.Logger
}

// Update changes the caller's names and username. Username syntax is
// checked by the caller; uniqueness is enforced by the store.
func (s *ProfileService) Update(ctx context.Context, userID string, p domain.ProfileUpdate) (domain.User, error) {
	if p.Empty() {
		return domain.User{}, domain.NewValidationError(map[string]string{"profile": "nothing to update"})
	}

	fields := map[string]string{}
	trimName := func(key string, v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		if n := utf8.RuneCountInString(t); n < 1 || n > maxNameLength {
			fields[key] = "must be 1-50 characters"
		}
		return &t
	}
	p.FirstName = trimName("firstName", p.FirstName)
	p.LastName = trimName("lastName", p.LastName)
	if p.Username != nil {
		t := strings.TrimSpace(*p.Username)
		if t == "" {
			fields["username"] = "required"
		}
		p.Username = &t
	}
	if len(fields) > 0 {
		return domain.User{}, domain.NewValidationError(fields)
	}
	return s.Store.UpdateProfile(ctx, userID, p)
}

// DeleteAccount removes the user and everything keyed to it. Messages are
// erased after the account; a failure there is logged, not returned.
func (s *ProfileService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.Store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if s.Messages == nil {
		return nil
	}
	n, err := s.Messages.DeleteForUser(ctx, userID)
	if err != nil {
		s.logger().Warn("erase messages failed", "user_id", userID, "err", err)
		return nil
	}
	s.logger().Info("account deleted", "user_id", userID, "messages", n)
	return nil
}

func (s *ProfileService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
