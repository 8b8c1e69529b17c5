package postgres

import (
	"context"
	"errors"
	"fmt"

	"SocialChatServer/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersStore struct {
	pool *pgxpool.Pool
}

func NewUsersStore(pool *pgxpool.Pool) *UsersStore {
	return &UsersStore{pool: pool}
}

func (s *UsersStore) CreateUser(ctx context.Context, nu domain.NewUser) (domain.User, error) {
	const q = `
		INSERT INTO users AS u (email, username, password_hash, first_name, last_name, verification_token_hash)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, q, nu.Email, nu.Username, nu.PasswordHash, nu.FirstName, nu.LastName, nu.VerificationTokenHash))
	if err != nil {
		return domain.User{}, mapUserWriteError(err)
	}
	return u, nil
}

// VerifyEmail marks the user holding tokenHash as verified and clears the
// token, so a link works once.
func (s *UsersStore) VerifyEmail(ctx context.Context, tokenHash string) (domain.User, error) {
	const q = `
		UPDATE users AS u
		SET is_verified = true, verification_token_hash = NULL, updated_at = now()
		WHERE u.verification_token_hash = $1
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, q, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("verify email: %w", err)
	}
	return u, nil
}

// UpdateProfile applies the non-nil fields of p.
func (s *UsersStore) UpdateProfile(ctx context.Context, userID string, p domain.ProfileUpdate) (domain.User, error) {
	const q = `
		UPDATE users AS u
		SET first_name = COALESCE($2, u.first_name),
			last_name = COALESCE($3, u.last_name),
			username = COALESCE($4, u.username),
			updated_at = now()
		WHERE u.id = $1
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, q, userID, p.FirstName, p.LastName, p.Username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, mapUserWriteError(err)
	}
	return u, nil
}

// DeleteUser removes the user; requests, friendships, blocks, push tokens
// and external links go with it through ON DELETE CASCADE.
func (s *UsersStore) DeleteUser(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		if invalidUUID(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *UsersStore) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (s *UsersStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users u WHERE lower(u.username) = lower($1)`

	u, err := scanUser(s.pool.QueryRow(ctx, q, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *UsersStore) GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error) {
	const q = `
		SELECT ` + userColumns + `, u.password_hash
		FROM users u
		WHERE lower(u.username) = lower($1) OR lower(u.email) = lower($1)
		ORDER BY (lower(u.username) = lower($1)) DESC
		LIMIT 1
	`

	var hash string
	u, err := scanUser(s.pool.QueryRow(ctx, q, login), &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserWithPassword{}, domain.ErrNotFound
		}
		return domain.UserWithPassword{}, fmt.Errorf("get user by login: %w", err)
	}
	return domain.UserWithPassword{User: u, PasswordHash: hash}, nil
}

// SearchUsers matches username, first or last name case-insensitively.
// Users on either side of a block with excludeUserID are left out.
func (s *UsersStore) SearchUsers(ctx context.Context, query, excludeUserID string, page domain.Page) ([]domain.UserSummary, int, error) {
	q := `
		SELECT ` + summaryColumns("u") + `, count(*) OVER ()
		FROM users u
		WHERE u.id <> $2
		  AND (u.username ILIKE $1 OR u.first_name ILIKE $1 OR u.last_name ILIKE $1)
		  AND NOT EXISTS (
			SELECT 1 FROM blocked_users b
			WHERE (b.blocker_id = $2 AND b.blocked_id = u.id)
			   OR (b.blocker_id = u.id AND b.blocked_id = $2)
		  )
		ORDER BY u.username ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := s.pool.Query(ctx, q, likePattern(query), excludeUserID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	out := []domain.UserSummary{}
	total := 0
	for rows.Next() {
		var sum domain.UserSummary
		dest, finish := summaryDest(&sum)
		if err := rows.Scan(append(dest, &total)...); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		finish()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search users: %w", err)
	}
	return out, total, nil
}

func mapUserWriteError(err error) error {
	if name, ok := uniqueViolation(err); ok {
		switch name {
		case "users_username_uq":
			return domain.ErrUsernameTaken
		case "users_email_uq":
			return domain.ErrEmailTaken
		default:
			return fmt.Errorf("unique violation (%s): %w", name, err)
		}
	}
	return fmt.Errorf("write user: %w", err)
}
