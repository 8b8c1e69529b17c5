package service

import (
	"context"
	"errors"
	"testing"

	"SocialChatServer/internal/domain"
)

func newUsersFixture() (*UsersService, *messagingFixture) {
	f := newMessagingFixture()
	return &UsersService{Directory: f.store, Relationships: f.store, Messages: f.store}, f
}

func TestUsersSearchValidatesQuery(t *testing.T) {
	svc, f := newUsersFixture()
	if _, _, err := svc.Search(context.Background(), f.alice.ID, " a ", domain.Page{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, _, err := svc.Search(context.Background(), f.alice.ID, "bo", domain.Page{Page: 1, Limit: 51}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized limit, got %v", err)
	}
}

func TestUsersSearchExcludesSelfAndBlocked(t *testing.T) {
	ctx := context.Background()
	svc, f := newUsersFixture()
	f.store.addUser("bobby")
	if _, err := f.svc.Block(ctx, f.bob.ID, f.alice.ID); err != nil {
		t.Fatalf("Block: %v", err)
	}

	got, total, err := svc.Search(ctx, f.alice.ID, "bo", domain.Page{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].Username != "bobby" {
		t.Fatalf("unexpected results: %+v", got)
	}

	got, _, _ = svc.Search(ctx, f.alice.ID, "alice", domain.Page{})
	if len(got) != 0 {
		t.Fatalf("expected self to be excluded, got %+v", got)
	}
}

func TestUsersProfileFlags(t *testing.T) {
	ctx := context.Background()
	svc, f := newUsersFixture()

	p, err := svc.Profile(ctx, f.alice.ID, "bob")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.IsFriend || p.HasPendingRequest || p.IsBlocked {
		t.Fatalf("unexpected flags for stranger: %+v", p)
	}

	if _, err := f.svc.SendRequest(ctx, f.alice, "bob"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	p, _ = svc.Profile(ctx, f.alice.ID, "bob")
	if !p.HasPendingRequest || !p.RequestSentByMe {
		t.Fatalf("expected outgoing pending request: %+v", p)
	}
	p, _ = svc.Profile(ctx, f.bob.ID, "alice")
	if !p.HasPendingRequest || p.RequestSentByMe {
		t.Fatalf("expected incoming pending request: %+v", p)
	}

	f.befriend(t, f.alice, f.carol)
	p, _ = svc.Profile(ctx, f.carol.ID, "alice")
	if !p.IsFriend || p.HasPendingRequest {
		t.Fatalf("expected friend flags: %+v", p)
	}

	if _, err := f.svc.Block(ctx, f.alice.ID, f.carol.ID); err != nil {
		t.Fatalf("Block: %v", err)
	}
	p, _ = svc.Profile(ctx, f.alice.ID, "carol")
	if !p.IsBlocked || p.IsFriend {
		t.Fatalf("expected blocked flags: %+v", p)
	}
	if _, err := svc.Profile(ctx, f.carol.ID, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected blocked viewer to get ErrNotFound, got %v", err)
	}
	if _, err := svc.Profile(ctx, f.alice.ID, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUsersStats(t *testing.T) {
	ctx := context.Background()
	svc, f := newUsersFixture()
	f.befriend(t, f.alice, f.bob)
	if _, err := f.svc.SendRequest(ctx, f.carol, "alice"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	f.send(t, f.alice, f.bob, "one")
	f.send(t, f.alice, f.bob, "two")
	f.send(t, f.bob, f.alice, "three")

	got, err := svc.Stats(ctx, f.alice.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := domain.UserStats{FriendsCount: 1, PendingRequestsCount: 1, MessagesSent: 2, MessagesReceived: 1}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
