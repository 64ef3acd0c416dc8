package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/vovakirdan/onetimechat/internal/store"
	"github.com/vovakirdan/onetimechat/internal/utils"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies pending migrations.
func New(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(ctx, dbPath, Migrate)
}

// NewWithSetup opens the database and runs setup instead of the bundled
// migrations. Useful for tests that seed rows.
func NewWithSetup(ctx context.Context, dbPath string, setup func(context.Context, *sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; an in-memory database
	// also lives only as long as that connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if setup != nil {
		if err := setup(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the bundled goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ChatStore implementation ====

// CreateChat inserts a chat, filling in id and timestamps when absent.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *store.Chat) error {
	if chat.ID == "" {
		chat.ID = utils.NewID()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.ExpiresAt.IsZero() {
		chat.ExpiresAt = chat.CreatedAt.Add(store.DefaultChatTTL)
	}
	chat.CreatedAt = chat.CreatedAt.UTC()
	chat.ExpiresAt = chat.ExpiresAt.UTC()
	chat.IsActive = true

	query := `
		INSERT INTO chats (id, created_at, expires_at, is_active)
		VALUES (?, ?, ?, 1)
	`
	if _, err := s.db.ExecContext(ctx, query, chat.ID, chat.CreatedAt, chat.ExpiresAt); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, created_at, expires_at, is_active
		FROM chats
		WHERE id = ?
	`
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID,
		&chat.CreatedAt,
		&chat.ExpiresAt,
		&chat.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}
	return &chat, nil
}

// SetChatActive flips the is_active flag.
func (s *SQLiteStore) SetChatActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chat %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// DeactivateExpired marks expired active chats as inactive.
func (s *SQLiteStore) DeactivateExpired(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chats WHERE is_active = 1 AND expires_at < ?`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query expired chats: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired chats: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET is_active = 0 WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("deactivate chat %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ids, nil
}

// ==== ParticipantStore implementation ====

const participantColumns = `id, chat_id, user_name, joined_at, is_online, session_id`

// AddParticipant inserts a participant row.
func (s *SQLiteStore) AddParticipant(ctx context.Context, p *store.Participant) error {
	if p.ID == "" {
		p.ID = utils.NewID()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	p.JoinedAt = p.JoinedAt.UTC()

	query := `
		INSERT INTO chat_participants (id, chat_id, user_name, joined_at, is_online, session_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.ChatID, p.UserName, p.JoinedAt, p.IsOnline, p.SessionID); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// GetParticipant retrieves a participant by ID.
func (s *SQLiteStore) GetParticipant(ctx context.Context, id string) (*store.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM chat_participants WHERE id = ?`
	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

// SetParticipantOnline flips the is_online flag and returns the updated row.
func (s *SQLiteStore) SetParticipantOnline(ctx context.Context, id string, online bool) (*store.Participant, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE chat_participants SET is_online = ? WHERE id = ?`, online, id)
	if err != nil {
		return nil, fmt.Errorf("update participant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("participant %s: %w", id, store.ErrNotFound)
	}
	return s.GetParticipant(ctx, id)
}

// ListParticipants lists participants of a chat ordered by join time.
func (s *SQLiteStore) ListParticipants(ctx context.Context, chatID string, onlineOnly bool) ([]*store.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM chat_participants WHERE chat_id = ?`
	if onlineOnly {
		query += ` AND is_online = 1`
	}
	query += ` ORDER BY joined_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID)
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
func (s *SQLiteStore) CountOnline(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_participants WHERE chat_id = ? AND is_online = 1`, chatID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}

// FindOnlineByName returns the online participant called name.
func (s *SQLiteStore) FindOnlineByName(ctx context.Context, chatID, name string) (*store.Participant, error) {
	query := `SELECT ` + participantColumns + `
		FROM chat_participants
		WHERE chat_id = ? AND user_name = ? AND is_online = 1
		LIMIT 1`
	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, chatID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %q: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Type == "" {
		msg.Type = store.MessageTypeUser
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	query := `
		INSERT INTO chat_messages (id, chat_id, participant_id, message_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.ChatID, msg.ParticipantID, msg.Type, msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if msg.ParticipantID != nil && msg.AuthorName == nil {
		if p, err := s.GetParticipant(ctx, *msg.ParticipantID); err == nil {
			msg.AuthorName = &p.UserName
		}
	}
	return nil
}

// ListMessages returns all messages of a chat ordered by creation time.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	query := `
		SELECT m.id, m.chat_id, m.participant_id, m.message_type, m.content, m.created_at, p.user_name
		FROM chat_messages m
		LEFT JOIN chat_participants p ON p.id = m.participant_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*store.Message{}
	for rows.Next() {
		var msg store.Message
		var participantID, author sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &participantID, &msg.Type, &msg.Content, &msg.CreatedAt, &author); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if participantID.Valid {
			msg.ParticipantID = &participantID.String
		}
		if author.Valid {
			msg.AuthorName = &author.String
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*store.Participant, error) {
	var p store.Participant
	if err := row.Scan(&p.ID, &p.ChatID, &p.UserName, &p.JoinedAt, &p.IsOnline, &p.SessionID); err != nil {
		return nil, err
	}
	return &p, nil
}
