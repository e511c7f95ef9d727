// --- t4z-server/session/store.go ---
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"t4z-server/models"
)

// ErrNotFound is returned when no session matches the given token or id.
var ErrNotFound = errors.New("session not found")

// ClientMeta carries per-login client details kept for the audit trail.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Store persists opaque-token admin sessions in the admin_sessions table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a session row and returns its id.
func (s *Store) Create(ctx context.Context, adminID, sessionToken string, expiresAt time.Time, meta ClientMeta) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO admin_sessions (admin_id, session_token, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, adminID, sessionToken, expiresAt, meta.IPAddress, meta.UserAgent).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create admin session: %w", err)
	}
	return id, nil
}

// LoadWithAdmin fetches a session and its owning admin in a single joined query.
func (s *Store) LoadWithAdmin(ctx context.Context, sessionToken string) (*models.AdminSession, *models.AdminUser, error) {
	var sess models.AdminSession
	var admin models.AdminUser
	err := s.pool.QueryRow(ctx, `
		SELECT
			s.id, s.admin_id, s.created_at, s.expires_at, s.last_accessed_at,
			a.id, a.username, a.full_name, a.role, a.is_active, a.last_login
		FROM admin_sessions s
		JOIN admin_users a ON s.admin_id = a.id
		WHERE s.session_token = $1
	`, sessionToken).Scan(
		&sess.ID, &sess.AdminID, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastAccessedAt,
		&admin.ID, &admin.Username, &admin.FullName, &admin.Role, &admin.IsActive, &admin.LastLogin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load admin session: %w", err)
	}
	return &sess, &admin, nil
}

// Touch updates the session's last-accessed timestamp. Callers treat this as
// best-effort; a failure must never fail the surrounding request.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE admin_sessions SET last_accessed_at = NOW() WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch admin session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteByToken removes the session with the given token. Deleting a session
// that no longer exists is not an error.
func (s *Store) DeleteByToken(ctx context.Context, sessionToken string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE session_token = $1`, sessionToken)
	if err != nil {
		return fmt.Errorf("failed to delete admin session by token: %w", err)
	}
	return nil
}

// DeleteByID removes the session with the given id. Idempotent.
func (s *Store) DeleteByID(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete admin session %s: %w", sessionID, err)
	}
	return nil
}

// PurgeExpired removes all sessions past their expiry and returns how many
// were deleted. Run periodically; expired sessions are also deleted lazily
// when the auth guard first sees them.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired admin sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
