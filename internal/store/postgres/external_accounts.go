package postgres

import (
	"context"
	"errors"
	"fmt"

	"SocialChatServer/internal/domain"
	"SocialChatServer/internal/service"

	"github.com/jackc/pgx/v5"
)

func (s *UsersStore) GetUserByExternal(ctx context.Context, provider, subject string) (domain.User, error) {
	const q = `
		SELECT ` + userColumns + `
		FROM external_accounts e
		JOIN users u ON u.id = e.user_id
		WHERE e.provider = $1 AND e.subject = $2
	`

	u, err := scanUser(s.pool.QueryRow(ctx, q, provider, subject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user by external: %w", err)
	}
	return u, nil
}

func (s *UsersStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users u WHERE lower(u.email) = lower($1)`

	u, err := scanUser(s.pool.QueryRow(ctx, q, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// LinkExternalAccount fails with domain.ErrExternalAccountExists when the
// identity is taken or the user already has one from this provider.
func (s *UsersStore) LinkExternalAccount(ctx context.Context, userID, provider, subject, email string) error {
	return linkExternal(ctx, s.pool, userID, provider, subject, email)
}

func (s *UsersStore) CreateUserWithExternal(ctx context.Context, nu domain.NewUser, provider, subject string) (domain.User, error) {
	const q = `
		INSERT INTO users AS u (email, username, password_hash, first_name, last_name, is_verified)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING ` + userColumns

	var out domain.User
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, q, nu.Email, nu.Username, nu.PasswordHash, nu.FirstName, nu.LastName))
		if err != nil {
			return mapUserWriteError(err)
		}
		if err := linkExternal(ctx, tx, u.ID, provider, subject, nu.Email); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return out, nil
}

func linkExternal(ctx context.Context, db dbtx, userID, provider, subject, email string) error {
	const q = `
		INSERT INTO external_accounts (provider, subject, user_id, email)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := db.Exec(ctx, q, provider, subject, userID, email); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.ErrExternalAccountExists
		}
		return fmt.Errorf("link external account: %w", err)
	}
	return nil
}

var _ service.ExternalUsersStore = (*UsersStore)(nil)
var _ service.ProfileStore = (*UsersStore)(nil)
