package postgres

import (
	"context"
	"fmt"
	"time"

	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/service"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tokenColumns = `t.id, t.user_id, t.token, t.platform, t.created_at, t.updated_at`

// NotificationTokensStore keeps the FCM registration tokens of each user's
// devices. A token belongs to one user at a time.
type NotificationTokensStore struct {
	db dbtx
}

func NewNotificationTokensStore(pool *pgxpool.Pool) *NotificationTokensStore {
	return &NotificationTokensStore{db: pool}
}

func scanToken(row rowScanner) (domain.NotificationToken, error) {
	var (
		t        domain.NotificationToken
		idUUID   pgtype.UUID
		userUUID pgtype.UUID
	)
	if err := row.Scan(&idUUID, &userUUID, &t.Token, &t.Platform, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.NotificationToken{}, err
	}
	t.ID = uuidOrEmpty(idUUID)
	t.UserID = uuidOrEmpty(userUUID)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

// RegisterToken moves token to userID (a device that signs in as someone
// else stops receiving the previous user's pushes) and trims the user's
// devices to the keep most recently registered.
func (s *NotificationTokensStore) RegisterToken(ctx context.Context, userID, token, platform string, when time.Time, keep int) (domain.NotificationToken, error) {
	const upsert = `
		INSERT INTO notification_tokens AS t (user_id, token, platform, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + tokenColumns
	const prune = `
		DELETE FROM notification_tokens
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM notification_tokens
			WHERE user_id = $1
			ORDER BY updated_at DESC, id
			LIMIT $2
		)
	`

	var out domain.NotificationToken
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		t, err := scanToken(tx.QueryRow(ctx, upsert, userID, token, platform, when))
		if err != nil {
			return fmt.Errorf("upsert notification token: %w", err)
		}
		if keep > 0 {
			if _, err := tx.Exec(ctx, prune, userID, keep); err != nil {
				return fmt.Errorf("prune notification tokens: %w", err)
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return domain.NotificationToken{}, err
	}
	return out, nil
}

func (s *NotificationTokensStore) DeleteToken(ctx context.Context, userID, token string) error {
	_, err := s.DeleteTokens(ctx, userID, []string{token})
	return err
}

// DeleteTokens drops the listed tokens of userID in one statement.
func (s *NotificationTokensStore) DeleteTokens(ctx context.Context, userID string, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM notification_tokens WHERE user_id = $1 AND token = ANY($2)`, userID, tokens)
	if err != nil {
		if invalidUUID(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("delete notification tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *NotificationTokensStore) ListTokens(ctx context.Context, userID string) ([]domain.NotificationToken, error) {
	const q = `
		SELECT ` + tokenColumns + `
		FROM notification_tokens t
		WHERE t.user_id = $1
		ORDER BY t.updated_at DESC
	`

	rows, err := s.db.Query(ctx, q, userID)
	if err != nil {
		if invalidUUID(err) {
			return []domain.NotificationToken{}, nil
		}
		return nil, fmt.Errorf("list notification tokens: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.NotificationToken, error) {
		return scanToken(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list notification tokens: %w", err)
	}
	if tokens == nil {
		tokens = []domain.NotificationToken{}
	}
	return tokens, nil
}

var _ service.NotificationTokensStore = (*NotificationTokensStore)(nil)
