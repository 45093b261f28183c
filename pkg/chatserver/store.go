package chatserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatlink/pkg/realtime"
)

// ErrNotFound is returned when a message id does not exist or does not
// belong to the requester.
var ErrNotFound = errors.New("chatserver: message not found")

// MessageStore persists messages and read state. The in-memory
// implementation backs tests and local development; the Postgres one is
// used when a pool is configured.
type MessageStore interface {
	SaveMessage(ctx context.Context, m realtime.Message) (realtime.Message, error)
	History(ctx context.Context, userID, peerID int64, skip, limit int) ([]realtime.Message, error)
	MarkRead(ctx context.Context, readerID, peerID int64) ([]int64, error)
	DeleteMessage(ctx context.Context, requesterID, messageID int64) error
}

// MemoryStore keeps messages in process memory with serial id assignment.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []realtime.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) SaveMessage(_ context.Context, m realtime.Message) (realtime.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.nextID
	s.nextID++
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	m.IsRead = false
	s.msgs = append(s.msgs, m)
	return m, nil
}

func (s *MemoryStore) History(_ context.Context, userID, peerID int64, skip, limit int) ([]realtime.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conv []realtime.Message
	for _, m := range s.msgs {
		if (m.SenderID == userID && m.ReceiverID == peerID) ||
			(m.SenderID == peerID && m.ReceiverID == userID) {
			conv = append(conv, m)
		}
	}
	sort.SliceStable(conv, func(i, j int) bool {
		if conv[i].CreatedAt != conv[j].CreatedAt {
			return conv[i].CreatedAt < conv[j].CreatedAt
		}
		return conv[i].ID < conv[j].ID
	})

	if skip < 0 {
		skip = 0
	}
	if skip >= len(conv) {
		return []realtime.Message{}, nil
	}
	conv = conv[skip:]
	if limit > 0 && limit < len(conv) {
		conv = conv[:limit]
	}
	out := make([]realtime.Message, len(conv))
	copy(out, conv)
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, readerID, peerID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.SenderID == peerID && m.ReceiverID == readerID && !m.IsRead {
			m.IsRead = true
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, requesterID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.msgs {
		if m.ID != messageID {
			continue
		}
		if m.SenderID != requesterID && m.ReceiverID != requesterID {
			return ErrNotFound
		}
		s.msgs = append(s.msgs[:i:i], s.msgs[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// PostgresMessageStore persists messages in the messages table.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMessageStore wraps a pgx pool.
func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

func (s *PostgresMessageStore) SaveMessage(ctx context.Context, m realtime.Message) (realtime.Message, error) {
	if s.pool == nil {
		return realtime.Message{}, errors.New("db pool is nil")
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}

	const insertSQL = `
		INSERT INTO messages (sender_id, receiver_id, message_type, content, file_url, duration, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		RETURNING id
	`

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.pool.QueryRow(ctxTimeout, insertSQL,
		m.SenderID, m.ReceiverID, string(m.MessageType), m.Content, m.FileURL, m.Duration, m.CreatedAt)
	if err := row.Scan(&m.ID); err != nil {
		return realtime.Message{}, fmt.Errorf("insert message: %w", err)
	}
	m.IsRead = false
	return m, nil
}

func (s *PostgresMessageStore) History(ctx context.Context, userID, peerID int64, skip, limit int) ([]realtime.Message, error) {
	if s.pool == nil {
		return nil, errors.New("db pool is nil")
	}
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 50
	}

	const selectSQL = `
		SELECT id, sender_id, receiver_id, message_type, content, file_url, duration, is_read, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
		OFFSET $3 LIMIT $4
	`

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctxTimeout, selectSQL, userID, peerID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []realtime.Message{}
	for rows.Next() {
		var m realtime.Message
		var msgType string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &msgType, &m.Content, &m.FileURL, &m.Duration, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.MessageType = realtime.MessageType(msgType)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresMessageStore) MarkRead(ctx context.Context, readerID, peerID int64) ([]int64, error) {
	if s.pool == nil {
		return nil, errors.New("db pool is nil")
	}

	const updateSQL = `
		UPDATE messages
		SET is_read = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE
		RETURNING id
	`

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctxTimeout, updateSQL, peerID, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresMessageStore) DeleteMessage(ctx context.Context, requesterID, messageID int64) error {
	if s.pool == nil {
		return errors.New("db pool is nil")
	}

	const deleteSQL = `
		DELETE FROM messages
		WHERE id = $1 AND (sender_id = $2 OR receiver_id = $2)
		RETURNING id
	`

	ctxTimeout, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id int64
	err := s.pool.QueryRow(ctxTimeout, deleteSQL, messageID, requesterID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
