package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

const userColumns = `id, display_name, email, password_hash, role, is_email_verified, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.IsEmailVerified, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.IsEmailVerified, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpsertUser inserts the user if the id is new, otherwise refreshes email
// and display name. The password hash is only written on the insert path;
// an existing user's credentials are never overwritten here.
func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			updated_at = NOW()
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, role)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user role rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- scraps ----

const scrapColumns = `id, code, content, x, y, visible, user_id, nested_within, created_at, updated_at`

func (s *PostgresStore) FindScrapByID(ctx context.Context, scrapID string) (Scrap, error) {
	var sc Scrap
	err := s.db.QueryRowContext(ctx,
		`SELECT `+scrapColumns+` FROM scraps WHERE id=$1`, scrapID,
	).Scan(&sc.ID, &sc.Code, &sc.Content, &sc.X, &sc.Y, &sc.Visible, &sc.UserID, &sc.NestedWithin, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return Scrap{}, err
	}
	return sc, nil
}

func (s *PostgresStore) InsertScrap(ctx context.Context, sc Scrap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraps (id, code, content, x, y, visible, user_id, nested_within, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sc.ID, sc.Code, sc.Content, sc.X, sc.Y, sc.Visible, sc.UserID, sc.NestedWithin, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scrap: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateScrapFields(ctx context.Context, scrapID string, m ScrapMutation) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scraps
		SET code=$2, content=$3, x=$4, y=$5, visible=$6, nested_within=$7, updated_at=$8
		WHERE id=$1
	`, scrapID, m.Code, m.Content, m.X, m.Y, m.Visible, m.NestedWithin, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update scrap: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update scrap rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteScrap(ctx context.Context, scrapID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scraps WHERE id=$1`, scrapID)
	if err != nil {
		return fmt.Errorf("delete scrap: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete scrap rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteAllScraps(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scraps`); err != nil {
		return fmt.Errorf("delete all scraps: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListScraps(ctx context.Context, filter ScrapFilter) ([]Scrap, error) {
	query := `SELECT ` + scrapColumns + ` FROM scraps`
	var where []string
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if filter.UpdatedAfter != nil {
		args = append(args, *filter.UpdatedAfter)
		where = append(where, fmt.Sprintf("updated_at > $%d", len(args)))
	}
	if filter.TopLevelOnly {
		where = append(where, "nested_within IS NULL")
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scraps: %w", err)
	}
	defer rows.Close()

	scraps := make([]Scrap, 0)
	for rows.Next() {
		var sc Scrap
		if err := rows.Scan(&sc.ID, &sc.Code, &sc.Content, &sc.X, &sc.Y, &sc.Visible, &sc.UserID, &sc.NestedWithin, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scrap: %w", err)
		}
		scraps = append(scraps, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scraps: %w", err)
	}
	return scraps, nil
}

func (s *PostgresStore) CountNestedScraps(ctx context.Context, scrapID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scraps WHERE nested_within=$1`, scrapID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count nested scraps: %w", err)
	}
	return count, nil
}

// ---- sessions and revocation ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.role, u.is_email_verified, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var u User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.IsEmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if u.Role == "" {
		u.Role = "viewer"
	}
	return u, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// IsNotFound reports whether err means a row was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
