package postgres

import (
	"encoding/hex"

	"SocialChatServer/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `u.id, u.email, u.username, u.first_name, u.last_name, u.profile_picture, u.bio, u.is_verified, u.created_at, u.updated_at`

func scanUser(row rowScanner, extra ...any) (domain.User, error) {
	var (
		u      domain.User
		idUUID pgtype.UUID
	)
	dest := append([]any{
		&idUUID,
		&u.Email,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.ProfilePicture,
		&u.Bio,
		&u.IsVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.User{}, err
	}
	u.ID = uuidOrEmpty(idUUID)
	return u, nil
}

// summaryColumns selects the public profile of the user aliased by alias.
func summaryColumns(alias string) string {
	return alias + ".id, " + alias + ".username, " + alias + ".first_name, " + alias + ".last_name, " + alias + ".profile_picture, " + alias + ".bio"
}

// summaryDest returns scan destinations for summaryColumns; call finish
// after Scan to resolve the id.
func summaryDest(s *domain.UserSummary) (dest []any, finish func()) {
	var idUUID pgtype.UUID
	dest = []any{&idUUID, &s.Username, &s.FirstName, &s.LastName, &s.ProfilePicture, &s.Bio}
	return dest, func() { s.ID = uuidOrEmpty(idUUID) }
}

func uuidOrEmpty(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuidBytesToString(u.Bytes)
}

func uuidBytesToString(b [16]byte) string {
	var buf [36]byte
	hex.Encode(buf[0:8], b[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], b[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], b[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], b[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:36], b[10:16])
	return string(buf[:])
}

func likePattern(q string) string {
	r := []rune{}
	for _, c := range q {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return "%" + string(r) + "%"
}
