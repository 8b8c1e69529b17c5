package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/service"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RelationshipsStore persists friend requests, friendships and blocks.
// Pairs are unordered: lookups match either direction.
type RelationshipsStore struct {
	db dbtx
}

func NewRelationshipsStore(pool *pgxpool.Pool) *RelationshipsStore {
	return &RelationshipsStore{db: pool}
}

// WithinTx runs fn in one transaction, committing iff fn returns nil. When
// the store is already bound to a transaction a savepoint is used.
func (s *RelationshipsStore) WithinTx(ctx context.Context, fn func(q service.RelationshipQueries) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&RelationshipsStore{db: tx})
	})
}

func (s *RelationshipsStore) FriendshipExists(ctx context.Context, userA, userB string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
		)
	`
	return s.exists(ctx, "friendship exists", q, userA, userB)
}

func (s *RelationshipsStore) BlockBetween(ctx context.Context, userA, userB string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM blocked_users
			WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1)
		)
	`
	return s.exists(ctx, "block between", q, userA, userB)
}

func (s *RelationshipsStore) BlockExists(ctx context.Context, blockerID, blockedID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2)`
	return s.exists(ctx, "block exists", q, blockerID, blockedID)
}

func (s *RelationshipsStore) exists(ctx context.Context, op, q string, args ...any) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, q, args...).Scan(&ok); err != nil {
		if invalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

const requestColumns = `r.id, r.sender_id, r.receiver_id, r.status, r.created_at, r.updated_at`

func scanRequest(row rowScanner, extra ...any) (domain.FriendRequest, error) {
	var (
		fr                       domain.FriendRequest
		idUUID, sender, receiver pgtype.UUID
	)
	dest := append([]any{&idUUID, &sender, &receiver, &fr.Status, &fr.CreatedAt, &fr.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.FriendRequest{}, err
	}
	fr.ID = uuidOrEmpty(idUUID)
	fr.SenderID = uuidOrEmpty(sender)
	fr.ReceiverID = uuidOrEmpty(receiver)
	return fr, nil
}

func (s *RelationshipsStore) GetRequestBetween(ctx context.Context, userA, userB string) (domain.FriendRequest, error) {
	const q = `
		SELECT ` + requestColumns + `
		FROM friend_requests r
		WHERE (r.sender_id = $1 AND r.receiver_id = $2) OR (r.sender_id = $2 AND r.receiver_id = $1)
	`
	fr, err := scanRequest(s.db.QueryRow(ctx, q, userA, userB))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return domain.FriendRequest{}, domain.ErrNotFound
		}
		return domain.FriendRequest{}, fmt.Errorf("get friend request: %w", err)
	}
	return fr, nil
}

func (s *RelationshipsStore) CreateRequest(ctx context.Context, senderID, receiverID string, when time.Time) (domain.FriendRequest, error) {
	const q = `
		INSERT INTO friend_requests AS r (sender_id, receiver_id, status, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $3)
		RETURNING ` + requestColumns

	fr, err := scanRequest(s.db.QueryRow(ctx, q, senderID, receiverID, when))
	if err != nil {
		if name, ok := uniqueViolation(err); ok && name == "friend_requests_pair_uq" {
			return domain.FriendRequest{}, domain.ErrAlreadyRequested
		}
		return domain.FriendRequest{}, fmt.Errorf("create friend request: %w", err)
	}
	return fr, nil
}

// ReopenRequest flips a settled row back to pending, pointing it from
// senderID to receiverID. The row id is preserved.
func (s *RelationshipsStore) ReopenRequest(ctx context.Context, requestID, senderID, receiverID string, when time.Time) (domain.FriendRequest, error) {
	const q = `
		UPDATE friend_requests AS r
		SET sender_id = $2, receiver_id = $3, status = 'pending', updated_at = $4
		WHERE r.id = $1 AND r.status <> 'pending'
		RETURNING ` + requestColumns

	fr, err := scanRequest(s.db.QueryRow(ctx, q, requestID, senderID, receiverID, when))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FriendRequest{}, domain.ErrAlreadyRequested
		}
		return domain.FriendRequest{}, fmt.Errorf("reopen friend request: %w", err)
	}
	return fr, nil
}

func (s *RelationshipsStore) RespondRequest(ctx context.Context, requestID, receiverID string, status domain.RequestStatus, when time.Time) (domain.FriendRequest, error) {
	const q = `
		UPDATE friend_requests AS r
		SET status = $3, updated_at = $4
		WHERE r.id = $1 AND r.receiver_id = $2 AND r.status = 'pending'
		RETURNING ` + requestColumns

	fr, err := scanRequest(s.db.QueryRow(ctx, q, requestID, receiverID, string(status), when))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return domain.FriendRequest{}, domain.ErrNotFound
		}
		return domain.FriendRequest{}, fmt.Errorf("respond friend request: %w", err)
	}
	return fr, nil
}

func (s *RelationshipsStore) DeletePendingRequest(ctx context.Context, requestID, senderID string) error {
	const q = `DELETE FROM friend_requests WHERE id = $1 AND sender_id = $2 AND status = 'pending'`
	ct, err := s.db.Exec(ctx, q, requestID, senderID)
	if err != nil {
		if invalidUUID(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("cancel friend request: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *RelationshipsStore) DeleteRequestsBetween(ctx context.Context, userA, userB string) error {
	const q = `
		DELETE FROM friend_requests
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
	`
	if _, err := s.db.Exec(ctx, q, userA, userB); err != nil {
		return fmt.Errorf("delete friend requests: %w", err)
	}
	return nil
}

func (s *RelationshipsStore) CreateFriendship(ctx context.Context, userA, userB string, when time.Time) (domain.Friendship, error) {
	const q = `
		INSERT INTO friendships (user1_id, user2_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, user1_id, user2_id, created_at
	`
	var (
		f              domain.Friendship
		idUUID, u1, u2 pgtype.UUID
	)
	err := s.db.QueryRow(ctx, q, userA, userB, when).Scan(&idUUID, &u1, &u2, &f.CreatedAt)
	if err != nil {
		if name, ok := uniqueViolation(err); ok && name == "friendships_pair_uq" {
			return domain.Friendship{}, domain.ErrAlreadyFriends
		}
		return domain.Friendship{}, fmt.Errorf("create friendship: %w", err)
	}
	f.ID, f.User1ID, f.User2ID = uuidOrEmpty(idUUID), uuidOrEmpty(u1), uuidOrEmpty(u2)
	return f, nil
}

func (s *RelationshipsStore) DeleteFriendship(ctx context.Context, userA, userB string) (bool, error) {
	const q = `
		DELETE FROM friendships
		WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
	`
	ct, err := s.db.Exec(ctx, q, userA, userB)
	if err != nil {
		if invalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete friendship: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *RelationshipsStore) CreateBlock(ctx context.Context, blockerID, blockedID string, when time.Time) (domain.BlockedUser, error) {
	const q = `
		INSERT INTO blocked_users (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, blocker_id, blocked_id, created_at
	`
	var (
		b                        domain.BlockedUser
		idUUID, blocker, blocked pgtype.UUID
	)
	err := s.db.QueryRow(ctx, q, blockerID, blockedID, when).Scan(&idUUID, &blocker, &blocked, &b.CreatedAt)
	if err != nil {
		if name, ok := uniqueViolation(err); ok && name == "blocked_users_pair_uq" {
			return domain.BlockedUser{}, domain.ErrAlreadyBlocked
		}
		return domain.BlockedUser{}, fmt.Errorf("create block: %w", err)
	}
	b.ID, b.BlockerID, b.BlockedID = uuidOrEmpty(idUUID), uuidOrEmpty(blocker), uuidOrEmpty(blocked)
	return b, nil
}

func (s *RelationshipsStore) DeleteBlock(ctx context.Context, blockerID, blockedID string) (bool, error) {
	const q = `DELETE FROM blocked_users WHERE blocker_id = $1 AND blocked_id = $2`
	ct, err := s.db.Exec(ctx, q, blockerID, blockedID)
	if err != nil {
		if invalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete block: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *RelationshipsStore) ListReceivedRequests(ctx context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error) {
	return s.listRequests(ctx, "r.receiver_id = $1", userID, page)
}

func (s *RelationshipsStore) ListSentRequests(ctx context.Context, userID string, page domain.Page) ([]domain.FriendRequest, int, error) {
	return s.listRequests(ctx, "r.sender_id = $1", userID, page)
}

// listRequests returns pending requests matching where, newest first, with
// both profiles embedded.
func (s *RelationshipsStore) listRequests(ctx context.Context, where, userID string, page domain.Page) ([]domain.FriendRequest, int, error) {
	q := `
		SELECT ` + requestColumns + `, ` + summaryColumns("su") + `, ` + summaryColumns("ru") + `, count(*) OVER ()
		FROM friend_requests r
		JOIN users su ON su.id = r.sender_id
		JOIN users ru ON ru.id = r.receiver_id
		WHERE ` + where + ` AND r.status = 'pending'
		ORDER BY r.updated_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.Query(ctx, q, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list friend requests: %w", err)
	}
	defer rows.Close()

	out := []domain.FriendRequest{}
	total := 0
	for rows.Next() {
		var sender, receiver domain.UserSummary
		senderDest, finishSender := summaryDest(&sender)
		receiverDest, finishReceiver := summaryDest(&receiver)
		extra := append(append(senderDest, receiverDest...), &total)
		fr, err := scanRequest(rows, extra...)
		if err != nil {
			return nil, 0, fmt.Errorf("scan friend request: %w", err)
		}
		finishSender()
		finishReceiver()
		fr.Sender, fr.Receiver = &sender, &receiver
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list friend requests: %w", err)
	}
	return out, total, nil
}

// friendsFrom joins each friendship of $1 to the other member as u.
const friendsFrom = `
	FROM friendships f
	JOIN users u ON u.id = CASE WHEN f.user1_id = $1 THEN f.user2_id ELSE f.user1_id END
	WHERE (f.user1_id = $1 OR f.user2_id = $1)
`

func (s *RelationshipsStore) ListFriends(ctx context.Context, userID, search string, page domain.Page) ([]domain.Friend, int, error) {
	q := `SELECT ` + summaryColumns("u") + `, f.created_at, count(*) OVER ()` + friendsFrom + `
		AND ($2 = '' OR u.username ILIKE $3 OR u.first_name ILIKE $3 OR u.last_name ILIKE $3)
		ORDER BY u.username ASC
		LIMIT $4 OFFSET $5
	`
	rows, err := s.db.Query(ctx, q, userID, search, likePattern(search), page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	out := []domain.Friend{}
	total := 0
	for rows.Next() {
		var f domain.Friend
		dest, finish := summaryDest(&f.UserSummary)
		if err := rows.Scan(append(dest, &f.FriendsSince, &total)...); err != nil {
			return nil, 0, fmt.Errorf("scan friend: %w", err)
		}
		finish()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list friends: %w", err)
	}
	return out, total, nil
}

func (s *RelationshipsStore) ListAllFriends(ctx context.Context, userID string) ([]domain.Friend, error) {
	q := `SELECT ` + summaryColumns("u") + `, f.created_at` + friendsFrom + `ORDER BY u.username ASC`
	rows, err := s.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list all friends: %w", err)
	}
	defer rows.Close()

	var out []domain.Friend
	for rows.Next() {
		var f domain.Friend
		dest, finish := summaryDest(&f.UserSummary)
		if err := rows.Scan(append(dest, &f.FriendsSince)...); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		finish()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list all friends: %w", err)
	}
	return out, nil
}

func (s *RelationshipsStore) ListBlocked(ctx context.Context, blockerID string) ([]domain.BlockedUser, error) {
	q := `
		SELECT b.id, b.blocker_id, b.blocked_id, b.created_at, ` + summaryColumns("u") + `
		FROM blocked_users b
		JOIN users u ON u.id = b.blocked_id
		WHERE b.blocker_id = $1
		ORDER BY b.created_at DESC
	`
	rows, err := s.db.Query(ctx, q, blockerID)
	if err != nil {
		return nil, fmt.Errorf("list blocked users: %w", err)
	}
	defer rows.Close()

	out := []domain.BlockedUser{}
	for rows.Next() {
		var (
			b                        domain.BlockedUser
			idUUID, blocker, blocked pgtype.UUID
			summary                  domain.UserSummary
		)
		dest, finish := summaryDest(&summary)
		if err := rows.Scan(append([]any{&idUUID, &blocker, &blocked, &b.CreatedAt}, dest...)...); err != nil {
			return nil, fmt.Errorf("scan blocked user: %w", err)
		}
		finish()
		b.ID, b.BlockerID, b.BlockedID = uuidOrEmpty(idUUID), uuidOrEmpty(blocker), uuidOrEmpty(blocked)
		b.Blocked = &summary
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blocked users: %w", err)
	}
	return out, nil
}

var _ service.RelationshipStore = (*RelationshipsStore)(nil)
