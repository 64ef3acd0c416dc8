// Package postgres implements store.Store on top of a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vovakirdan/onetimechat/internal/store"
	"github.com/vovakirdan/onetimechat/internal/utils"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements store.Store for PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*PostgresStore)(nil)

// New connects to databaseURL and applies pending migrations.
func New(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the bundled goose migrations through a database/sql
// handle borrowed from the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateChat inserts a chat, filling in id and timestamps when absent.
func (s *PostgresStore) CreateChat(ctx context.Context, chat *store.Chat) error {
	if chat.ID == "" {
		chat.ID = utils.NewID()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.ExpiresAt.IsZero() {
		chat.ExpiresAt = chat.CreatedAt.Add(store.DefaultChatTTL)
	}
	chat.IsActive = true

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, created_at, expires_at, is_active) VALUES ($1, $2, $3, TRUE)`,
		chat.ID, chat.CreatedAt, chat.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	var chat store.Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, expires_at, is_active FROM chats WHERE id = $1`, id,
	).Scan(&chat.ID, &chat.CreatedAt, &chat.ExpiresAt, &chat.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	return &chat, nil
}

// SetChatActive flips the is_active flag.
func (s *PostgresStore) SetChatActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chats SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// DeactivateExpired marks expired active chats as inactive.
func (s *PostgresStore) DeactivateExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE chats SET is_active = FALSE WHERE is_active AND expires_at < $1 RETURNING id`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("deactivate expired chats: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect chat ids: %w", err)
	}
	return ids, nil
}

const participantColumns = `id, chat_id, user_name, joined_at, is_online, session_id`

// AddParticipant inserts a participant row.
func (s *PostgresStore) AddParticipant(ctx context.Context, p *store.Participant) error {
	if p.ID == "" {
		p.ID = utils.NewID()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_participants (`+participantColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.ChatID, p.UserName, p.JoinedAt, p.IsOnline, p.SessionID,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// GetParticipant retrieves a participant by ID.
func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*store.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM chat_participants WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("participant %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

// SetParticipantOnline flips the is_online flag and returns the updated row.
func (s *PostgresStore) SetParticipantOnline(ctx context.Context, id string, online bool) (*store.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`UPDATE chat_participants SET is_online = $1 WHERE id = $2 RETURNING `+participantColumns,
		online, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("participant %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("update participant: %w", err)
	}
	return p, nil
}

// ListParticipants lists participants of a chat ordered by join time.
func (s *PostgresStore) ListParticipants(ctx context.Context, chatID string, onlineOnly bool) ([]*store.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM chat_participants WHERE chat_id = $1`
	if onlineOnly {
		query += ` AND is_online`
	}
	query += ` ORDER BY joined_at ASC`

	rows, err := s.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := []*store.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// CountOnline counts online participants of a chat.
func (s *PostgresStore) CountOnline(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1 AND is_online`, chatID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}

// FindOnlineByName returns the online participant called name.
func (s *PostgresStore) FindOnlineByName(ctx context.Context, chatID, name string) (*store.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM chat_participants
		 WHERE chat_id = $1 AND user_name = $2 AND is_online
		 LIMIT 1`,
		chatID, name,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("participant %q: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

// SaveMessage persists a message.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = store.MessageTypeUser
	}

	err := s.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO chat_messages (id, chat_id, participant_id, message_type, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING participant_id
		)
		SELECT p.user_name
		FROM inserted i
		LEFT JOIN chat_participants p ON p.id = i.participant_id`,
		msg.ID, msg.ChatID, msg.ParticipantID, string(msg.Type), msg.Content, msg.CreatedAt,
	).Scan(&msg.AuthorName)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns all messages of a chat ordered by creation time.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.chat_id, m.participant_id, m.message_type, m.content, m.created_at, p.user_name
		FROM chat_messages m
		LEFT JOIN chat_participants p ON p.id = m.participant_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*store.Message{}
	for rows.Next() {
		var msg store.Message
		var msgType string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.ParticipantID, &msgType, &msg.Content, &msg.CreatedAt, &msg.AuthorName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Type = store.MessageType(msgType)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func scanParticipant(row pgx.Row) (*store.Participant, error) {
	var p store.Participant
	if err := row.Scan(&p.ID, &p.ChatID, &p.UserName, &p.JoinedAt, &p.IsOnline, &p.SessionID); err != nil {
		return nil, err
	}
	return &p, nil
}
