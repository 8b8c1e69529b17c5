package service

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"SocialChatServer/internal/domain"
)

// memStore is an in-memory users, relationships and messages store used by
// the service tests.
type memStore struct {
	txMu sync.Mutex

	mu          sync.Mutex
	seq         int
	users       map[string]domain.UserWithPassword
	requests    map[string]domain.FriendRequest
	friendships map[string]domain.Friendship
	blocks      map[string]domain.BlockedUser
	messages    map[string]domain.Message
	verify      map[string]string
	external    map[string]string

	failInsert error
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]domain.UserWithPassword{},
		requests:    map[string]domain.FriendRequest{},
		friendships: map[string]domain.Friendship{},
		blocks:      map[string]domain.BlockedUser{},
		messages:    map[string]domain.Message{},
		verify:      map[string]string{},
		external:    map[string]string{},
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) addUser(username string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := domain.User{
		ID:        "user-" + username,
		Username:  username,
		Email:     username + "@example.com",
		FirstName: strings.ToUpper(username[:1]) + username[1:],
	}
	s.users[u.ID] = domain.UserWithPassword{User: u}
	return u
}

func (s *memStore) summary(id string) *domain.UserSummary {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	sum := u.Summary()
	return &sum
}

// users

func (s *memStore) CreateUser(_ context.Context, nu domain.NewUser) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == nu.Username {
			return domain.User{}, domain.ErrUsernameTaken
		}
		if u.Email == nu.Email {
			return domain.User{}, domain.ErrEmailTaken
		}
	}
	u := domain.User{ID: s.nextID("user"), Email: nu.Email, Username: nu.Username, FirstName: nu.FirstName, LastName: nu.LastName}
	s.users[u.ID] = domain.UserWithPassword{User: u, PasswordHash: nu.PasswordHash}
	if nu.VerificationTokenHash != "" {
		s.verify[nu.VerificationTokenHash] = u.ID
	}
	return u, nil
}

func (s *memStore) GetUserByExternal(_ context.Context, provider, subject string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.external[provider+"/"+subject]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.users[id].User, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u.User, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *memStore) LinkExternalAccount(_ context.Context, userID, provider, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.external[provider+"/"+subject]; ok {
		return domain.ErrExternalAccountExists
	}
	prefix := provider + "/"
	for key, id := range s.external {
		if id == userID && strings.HasPrefix(key, prefix) {
			return domain.ErrExternalAccountExists
		}
	}
	s.external[provider+"/"+subject] = userID
	return nil
}

func (s *memStore) CreateUserWithExternal(ctx context.Context, nu domain.NewUser, provider, subject string) (domain.User, error) {
	u, err := s.CreateUser(ctx, nu)
	if err != nil {
		return domain.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.users[u.ID]
	stored.IsVerified = true
	s.users[u.ID] = stored
	s.external[provider+"/"+subject] = u.ID
	return stored.User, nil
}

func (s *memStore) VerifyEmail(_ context.Context, tokenHash string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.verify[tokenHash]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	delete(s.verify, tokenHash)
	u := s.users[id]
	u.IsVerified = true
	s.users[id] = u
	return u.User, nil
}

func (s *memStore) UpdateProfile(_ context.Context, userID string, p domain.ProfileUpdate) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if p.Username != nil {
		for id, other := range s.users {
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
	s.users[userID] = u
	return u.User, nil
}

// DeleteUser mirrors the cascades of the relational schema.
func (s *memStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.users, userID)
	for k, r := range s.requests {
		if r.SenderID == userID || r.ReceiverID == userID {
			delete(s.requests, k)
		}
	}
	for k := range s.friendships {
		if strings.Contains("|"+k+"|", "|"+userID+"|") {
			delete(s.friendships, k)
		}
	}
	for k, b := range s.blocks {
		if b.BlockerID == userID || b.BlockedID == userID {
			delete(s.blocks, k)
		}
	}
	return nil
}

func (s *memStore) DeleteForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages {
		if m.SenderID == userID || m.ReceiverID == userID {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetUserByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u.User, nil
}

func (s *memStore) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u.User, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *memStore) GetUserByLogin(_ context.Context, login string) (domain.UserWithPassword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == login || u.Email == login {
			return u, nil
		}
	}
	return domain.UserWithPassword{}, domain.ErrNotFound
}

func (s *memStore) SearchUsers(_ context.Context, query, excludeUserID string, page domain.Page) ([]domain.UserSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []domain.UserSummary
	for _, u := range s.users {
		if u.ID == excludeUserID {
			continue
		}
		_, ab := s.blocks[excludeUserID+">"+u.ID]
		_, ba := s.blocks[u.ID+">"+excludeUserID]
		if ab || ba {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.FirstName), q) ||
			strings.Contains(strings.ToLower(u.LastName), q) {
			out = append(out, u.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return paginate(out, page), len(out), nil
}

// relationships

func (s *memStore) WithinTx(ctx context.Context, fn func(q RelationshipQueries) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	requests := maps.Clone(s.requests)
	friendships := maps.Clone(s.friendships)
	blocks := maps.Clone(s.blocks)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.requests, s.friendships, s.blocks = requests, friendships, blocks
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) FriendshipExists(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.friendships[pairKey(a, b)]
	return ok, nil
}

func (s *memStore) BlockBetween(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ab := s.blocks[a+">"+b]
	_, ba := s.blocks[b+">"+a]
	return ab || ba, nil
}

func (s *memStore) requestBetween(a, b string) (domain.FriendRequest, bool) {
	for _, r := range s.requests {
		if pairKey(r.SenderID, r.ReceiverID) == pairKey(a, b) {
			return r, true
		}
	}
	return domain.FriendRequest{}, false
}

func (s *memStore) GetRequestBetween(_ context.Context, a, b string) (domain.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requestBetween(a, b)
	if !ok {
		return domain.FriendRequest{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memStore) CreateRequest(_ context.Context, senderID, receiverID string, when time.Time) (domain.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requestBetween(senderID, receiverID); ok {
		return domain.FriendRequest{}, domain.ErrAlreadyRequested
	}
	r := domain.FriendRequest{
		ID:         s.nextID("req"),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     domain.RequestPending,
		CreatedAt:  when,
		UpdatedAt:  when,
	}
	s.requests[r.ID] = r
	return r, nil
}

func (s *memStore) ReopenRequest(_ context.Context, requestID, senderID, receiverID string, when time.Time) (domain.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok || r.Status == domain.RequestPending {
		return domain.FriendRequest{}, domain.ErrAlreadyRequested
	}
	r.SenderID, r.ReceiverID, r.Status, r.UpdatedAt = senderID, receiverID, domain.RequestPending, when
	s.requests[requestID] = r
	return r, nil
}

func (s *memStore) RespondRequest(_ context.Context, requestID, receiverID string, status domain.RequestStatus, when time.Time) (domain.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok || r.ReceiverID != receiverID || r.Status != domain.RequestPending {
		return domain.FriendRequest{}, domain.ErrNotFound
	}
	r.Status, r.UpdatedAt = status, when
	s.requests[requestID] = r
	return r, nil
}

func (s *memStore) DeletePendingRequest(_ context.Context, requestID, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok || r.SenderID != senderID || r.Status != domain.RequestPending {
		return domain.ErrNotFound
	}
	delete(s.requests, requestID)
	return nil
}

func (s *memStore) DeleteRequestsBetween(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.requests {
		if pairKey(r.SenderID, r.ReceiverID) == pairKey(a, b) {
			delete(s.requests, id)
		}
	}
	return nil
}

func (s *memStore) CreateFriendship(_ context.Context, a, b string, when time.Time) (domain.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(a, b)
	if _, ok := s.friendships[k]; ok {
		return domain.Friendship{}, domain.ErrAlreadyFriends
	}
	f := domain.Friendship{ID: s.nextID("friendship"), User1ID: a, User2ID: b, CreatedAt: when}
	s.friendships[k] = f
	return f, nil
}

func (s *memStore) DeleteFriendship(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(a, b)
	_, ok := s.friendships[k]
	delete(s.friendships, k)
	return ok, nil
}

func (s *memStore) BlockExists(_ context.Context, blockerID, blockedID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[blockerID+">"+blockedID]
	return ok, nil
}

func (s *memStore) CreateBlock(_ context.Context, blockerID, blockedID string, when time.Time) (domain.BlockedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := blockerID + ">" + blockedID
	if _, ok := s.blocks[k]; ok {
		return domain.BlockedUser{}, domain.ErrAlreadyBlocked
	}
	b := domain.BlockedUser{ID: s.nextID("block"), BlockerID: blockerID, BlockedID: blockedID, CreatedAt: when}
	s.blocks[k] = b
	return b, nil
}

func (s *memStore) DeleteBlock(_ context.Context, blockerID, blockedID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := blockerID + ">" + blockedID
	_, ok := s.blocks[k]
	delete(s.blocks, k)
	return ok, nil
}

func paginate[T any](items []T, page domain.Page) []T {
	start := min(page.Offset(), len(items))
	end := min(start+page.Limit, len(items))
	return items[start:end]
}

func (s *memStore) listRequests(match func(domain.FriendRequest) bool, page domain.Page) ([]domain.FriendRequest, int) {
	var out []domain.FriendRequest
	for _, r := range s.requests {
		if match(r) {
			r.Sender = s.summary(r.SenderID)
			r.Receiver = s.summary(r.ReceiverID)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return paginate(out, page), len(out)
}

func (s *memStore) ListReceivedRequests(_ context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, total := s.listRequests(func(r domain.FriendRequest) bool {
		return r.ReceiverID == userID && r.Status == domain.RequestPending
	}, page)
	return out, total, nil
}

func (s *memStore) ListSentRequests(_ context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, total := s.listRequests(func(r domain.FriendRequest) bool {
		return r.SenderID == userID && r.Status == domain.RequestPending
	}, page)
	return out, total, nil
}

func (s *memStore) allFriends(userID, search string) []domain.Friend {
	var out []domain.Friend
	for _, f := range s.friendships {
		if f.User1ID != userID && f.User2ID != userID {
			continue
		}
		sum := s.summary(f.Other(userID))
		if sum == nil {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(sum.Username), strings.ToLower(search)) {
			continue
		}
		out = append(out, domain.Friend{UserSummary: *sum, FriendsSince: f.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *memStore) ListFriends(_ context.Context, userID, search string, page domain.Page) ([]domain.Friend, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.allFriends(userID, search)
	return paginate(all, page), len(all), nil
}

func (s *memStore) ListAllFriends(_ context.Context, userID string) ([]domain.Friend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allFriends(userID, ""), nil
}

func (s *memStore) ListBlocked(_ context.Context, blockerID string) ([]domain.BlockedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BlockedUser
	for _, b := range s.blocks {
		if b.BlockerID == blockerID {
			b.Blocked = s.summary(b.BlockedID)
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) requestRows(a, b string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if pairKey(r.SenderID, r.ReceiverID) == pairKey(a, b) {
			n++
		}
	}
	return n
}

// messages

func (s *memStore) InsertMessage(_ context.Context, m domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert != nil {
		return domain.Message{}, s.failInsert
	}
	m.ID = s.nextID("msg")
	s.messages[m.ID] = m
	return m, nil
}

func (s *memStore) between(a, b string) []domain.Message {
	var out []domain.Message
	for _, m := range s.messages {
		if pairKey(m.SenderID, m.ReceiverID) == pairKey(a, b) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListBetween(_ context.Context, a, b string, page domain.Page) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return paginate(s.between(a, b), page), nil
}

func (s *memStore) CountBetween(_ context.Context, a, b string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.between(a, b))), nil
}

func (s *memStore) LatestBetween(_ context.Context, a, b string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.between(a, b)
	if len(msgs) == 0 {
		return domain.Message{}, domain.ErrNotFound
	}
	return msgs[0], nil
}

func (s *memStore) MarkRead(_ context.Context, senderID, receiverID string, when time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.messages {
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead, m.UpdatedAt = true, when
			s.messages[id] = m
			n++
		}
	}
	return n, nil
}

func (s *memStore) countMessages(match func(domain.Message) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if match(m) {
			n++
		}
	}
	return n
}

func (s *memStore) CountUnread(_ context.Context, receiverID string) (int64, error) {
	return s.countMessages(func(m domain.Message) bool { return m.ReceiverID == receiverID && !m.IsRead }), nil
}

func (s *memStore) CountUnreadFrom(_ context.Context, senderID, receiverID string) (int64, error) {
	return s.countMessages(func(m domain.Message) bool {
		return m.SenderID == senderID && m.ReceiverID == receiverID && !m.IsRead
	}), nil
}

func (s *memStore) DeleteBySender(_ context.Context, messageID, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.SenderID != senderID {
		return domain.ErrNotFound
	}
	delete(s.messages, messageID)
	return nil
}

func (s *memStore) CountSent(_ context.Context, userID string) (int64, error) {
	return s.countMessages(func(m domain.Message) bool { return m.SenderID == userID }), nil
}

func (s *memStore) CountReceived(_ context.Context, userID string) (int64, error) {
	return s.countMessages(func(m domain.Message) bool { return m.ReceiverID == userID }), nil
}

// push

type routedEvent struct {
	UserID  string
	Event   string
	Payload any
}

type recordingPusher struct {
	mu     sync.Mutex
	online map[string]int
	events []routedEvent
}

func (p *recordingPusher) Route(userID, event string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routedEvent{UserID: userID, Event: event, Payload: payload})
	return p.online[userID]
}

func (p *recordingPusher) routed() []routedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]routedEvent(nil), p.events...)
}

// tickingClock returns a strictly increasing time on every call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}
