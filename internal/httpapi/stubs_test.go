package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"SocialChatServer/internal/auth"
	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/realtime"
	"SocialChatServer/internal/service"
)

// stubUsers keeps users in memory and satisfies every user-reading store
// the services need.
type stubUsers struct {
	mu    sync.Mutex
	byID  map[string]stubUser
	nextN int
}

func newStubUsers() *stubUsers {
	return &stubUsers{byID: map[string]stubUser{}}
}

type stubUser struct {
	domain.UserWithPassword
	verifyHash string
}

func (s *stubUsers) add(t *testing.T, username, password string) domain.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u, err := s.CreateUser(context.Background(), domain.NewUser{
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func (s *stubUsers) CreateUser(_ context.Context, nu domain.NewUser) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Username, nu.Username) {
			return domain.User{}, domain.ErrUsernameTaken
		}
		if strings.EqualFold(u.Email, nu.Email) {
			return domain.User{}, domain.ErrEmailTaken
		}
	}
	s.nextN++
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u := domain.User{
		ID:        fmt.Sprintf("user-%d", s.nextN),
		Email:     nu.Email,
		Username:  nu.Username,
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[u.ID] = stubUser{
		UserWithPassword: domain.UserWithPassword{User: u, PasswordHash: nu.PasswordHash},
		verifyHash:       nu.VerificationTokenHash,
	}
	return u, nil
}

func (s *stubUsers) GetUserByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u.User, nil
}

func (s *stubUsers) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Username, username) {
			return u.User, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *stubUsers) VerifyEmail(_ context.Context, tokenHash string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.byID {
		if tokenHash != "" && u.verifyHash == tokenHash {
			u.verifyHash = ""
			u.IsVerified = true
			s.byID[id] = u
			return u.User, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *stubUsers) GetUserByLogin(_ context.Context, login string) (domain.UserWithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Username, login) || strings.EqualFold(u.Email, login) {
			return u.UserWithPassword, nil
		}
	}
	return domain.UserWithPassword{}, domain.ErrNotFound
}

// stubExternal resolves linked identities only. Linking and creation are
// not expected in handler tests.
type stubExternal struct {
	service.ExternalUsersStore

	users  *stubUsers
	linked map[string]string
}

func (s *stubExternal) GetUserByExternal(ctx context.Context, provider, subject string) (domain.User, error) {
	id, ok := s.linked[provider+"/"+subject]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.users.GetUserByID(ctx, id)
}

// stubRelationships answers the access checks from fixed pair sets. Any
// other method panics through the nil embedded interface.
type stubRelationships struct {
	service.RelationshipStore

	mu      sync.Mutex
	friends map[[2]string]bool
	blocks  map[[2]string]bool

	listBlockedFunc func(context.Context, string) ([]domain.BlockedUser, error)
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func newStubRelationships() *stubRelationships {
	return &stubRelationships{friends: map[[2]string]bool{}, blocks: map[[2]string]bool{}}
}

func (s *stubRelationships) befriend(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[pairKey(a, b)] = true
}

func (s *stubRelationships) block(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[pairKey(a, b)] = true
}

func (s *stubRelationships) FriendshipExists(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friends[pairKey(a, b)], nil
}

func (s *stubRelationships) BlockBetween(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[pairKey(a, b)], nil
}

func (s *stubRelationships) ListBlocked(ctx context.Context, blockerID string) ([]domain.BlockedUser, error) {
	if s.listBlockedFunc != nil {
		return s.listBlockedFunc(ctx, blockerID)
	}
	return nil, nil
}

func (s *stubRelationships) ListAllFriends(_ context.Context, userID string) ([]domain.Friend, error) {
	return nil, nil
}

// stubMessages stores messages in insertion order.
type stubMessages struct {
	service.MessagesStore

	mu   sync.Mutex
	msgs []domain.Message

	insertErr error
}

func (s *stubMessages) InsertMessage(_ context.Context, m domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return domain.Message{}, s.insertErr
	}
	m.ID = fmt.Sprintf("msg-%d", len(s.msgs)+1)
	s.msgs = append(s.msgs, m)
	return m, nil
}

func (s *stubMessages) between(a, b string) []domain.Message {
	var out []domain.Message
	for _, m := range s.msgs {
		if pairKey(m.SenderID, m.ReceiverID) == pairKey(a, b) {
			out = append(out, m)
		}
	}
	return out
}

func (s *stubMessages) ListBetween(_ context.Context, a, b string, page domain.Page) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.between(a, b)
	var newest []domain.Message
	for i := len(all) - 1; i >= 0; i-- {
		newest = append(newest, all[i])
	}
	start := page.Offset()
	if start >= len(newest) {
		return nil, nil
	}
	end := min(start+page.Limit, len(newest))
	return append([]domain.Message(nil), newest[start:end]...), nil
}

func (s *stubMessages) DeleteForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.SenderID != userID && m.ReceiverID != userID {
			kept = append(kept, m)
		}
	}
	n := int64(len(s.msgs) - len(kept))
	s.msgs = kept
	return n, nil
}

func (s *stubMessages) CountBetween(_ context.Context, a, b string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.between(a, b))), nil
}

func (s *stubMessages) MarkRead(_ context.Context, senderID, receiverID string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *stubMessages) CountUnread(_ context.Context, receiverID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs {
		if m.ReceiverID == receiverID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *stubUsers) UpdateProfile(_ context.Context, userID string, p domain.ProfileUpdate) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if p.Username != nil {
		for id, other := range s.byID {
			if id != userID && strings.EqualFold(other.Username, *p.Username) {
				return domain.User{}, domain.ErrUsernameTaken
			}
		}
		u.Username = *p.Username
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	s.byID[userID] = u
	return u.User, nil
}

func (s *stubUsers) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.byID, userID)
	return nil
}

type testEnv struct {
	t        *testing.T
	users    *stubUsers
	rels     *stubRelationships
	messages *stubMessages
	push     *realtime.Registry
	authSvc  *service.AuthService
	handler  http.Handler
	logs     *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:        t,
		users:    newStubUsers(),
		rels:     newStubRelationships(),
		messages: &stubMessages{},
		push:     realtime.NewRegistry(nil),
		logs:     &bytes.Buffer{},
	}
	env.authSvc = &service.AuthService{
		Users:  env.users,
		Tokens: auth.NewTokenCodec([]byte("httpapi-test-secret-httpapi-test"), time.Hour),
	}
	friends := &service.FriendsService{Users: env.users, Relationships: env.rels}
	msgs := &service.MessagesService{
		Messages: env.messages,
		Access:   &service.AccessService{Relationships: env.rels},
		Friends:  env.rels,
		Users:    env.users,
		Push:     env.push,
	}
	env.handler = NewRouter(RouterOpts{
		Logger:   slog.New(slog.NewJSONHandler(env.logs, nil)),
		Pings:    map[string]func(context.Context) error{"postgres": func(context.Context) error { return nil }},
		Auth:     env.authSvc,
		Friends:  friends,
		Messages: msgs,
		Profile:  &service.ProfileService{Store: env.users, Messages: env.messages},
		Push:     env.push,
	})
	return env
}

func (e *testEnv) token(u domain.User) string {
	e.t.Helper()
	tok, _, err := e.authSvc.Tokens.Issue(u.ID)
	if err != nil {
		e.t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *testEnv) do(method, target, token, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}
