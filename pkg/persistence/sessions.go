package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultSessionTTL is applied when SaveSession is called with a zero TTL.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SaveSession persists the latest agent session for a request, replacing any
// prior one. The delete and insert run in one transaction so a reader never
// observes two live sessions for the same request. The agent mints a fresh
// session ID every turn, so "latest" is unambiguous.
func (s *Store) SaveSession(session *AgentSession, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = now.Add(ttl)
	}
	if session.SizeBytes == 0 {
		session.SizeBytes = int64(len(session.Blob))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM agent_sessions WHERE request_id = ?`, session.RequestID); err != nil {
		return fmt.Errorf("failed to delete prior session for request %s: %w", session.RequestID, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO agent_sessions (request_id, session_id, agent_type, blob, size_bytes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.RequestID, session.SessionID, session.AgentType, session.Blob,
		session.SizeBytes, session.CreatedAt, session.ExpiresAt); err != nil {
		return fmt.Errorf("failed to insert session for request %s: %w", session.RequestID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session for request %s: %w", session.RequestID, err)
	}

	s.logger.Debug("Saved session %s for request %s (%d bytes, expires %s)",
		session.SessionID, session.RequestID, session.SizeBytes,
		session.ExpiresAt.Format(time.RFC3339))
	return nil
}

// GetSessionForRequest returns the single live session for a request, or
// ErrSessionNotFound. Called once at the top of a follow-up turn to obtain
// the resume token.
func (s *Store) GetSessionForRequest(requestID string) (*AgentSession, error) {
	row := s.db.QueryRow(`
		SELECT request_id, session_id, agent_type, blob, size_bytes, created_at, expires_at
		FROM agent_sessions
		WHERE request_id = ?
	`, requestID)

	var session AgentSession
	err := row.Scan(&session.RequestID, &session.SessionID, &session.AgentType,
		&session.Blob, &session.SizeBytes, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session for request %s: %w", requestID, err)
	}
	return &session, nil
}

// DeleteExpiredSessions sweeps sessions past their expiry. Runs on an
// independent schedule, decoupled from any request's lifecycle.
func (s *Store) DeleteExpiredSessions() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM agent_sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.logger.Info("Swept %d expired agent sessions", affected)
	}
	return affected, nil
}
