package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendMessage writes one immutable entry to a request's thread.
func (s *Store) AppendMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, request_id, kind, body, author, source_marker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RequestID, msg.Kind, msg.Body, msg.Author, msg.SourceMarker, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append %s message to request %s: %w", msg.Kind, msg.RequestID, err)
	}
	return nil
}

// HasFollowUpMarker reports whether a follow-up with this source marker was
// already recorded for the request. Used to drop duplicate deliveries of the
// same origin message.
func (s *Store) HasFollowUpMarker(requestID, sourceMarker string) (bool, error) {
	if sourceMarker == "" {
		return false, nil
	}
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE request_id = ? AND kind = ? AND source_marker = ?
	`, requestID, MessageKindFollowUp, sourceMarker).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check follow-up marker for request %s: %w", requestID, err)
	}
	return count > 0, nil
}

// ListMessages returns a request's thread in creation order.
func (s *Store) ListMessages(requestID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, request_id, kind, body, author, source_marker, created_at
		FROM messages
		WHERE request_id = ?
		ORDER BY created_at ASC, id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for request %s: %w", requestID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RequestID, &msg.Kind, &msg.Body,
			&msg.Author, &msg.SourceMarker, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}
