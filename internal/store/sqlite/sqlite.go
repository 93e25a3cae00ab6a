package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO users (id, username, password_hash)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, notFound("user", err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, notFound("user", err)
	}
	return &user, nil
}

// ==== ConversationStore implementation ====

// CreateConversation creates a group conversation with its participants.
func (s *SQLiteStore) CreateConversation(ctx context.Context, name, createdBy string, participantIDs []string) (*store.Conversation, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, name, created_by)
		VALUES (?, ?, ?, ?)
	`, id, store.ConversationTypeGroup, name, createdBy); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	if err := addParticipants(ctx, tx, id, participantIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetConversation(ctx, id)
}

// CreateDirectConversation creates a direct conversation between two users.
// Handles deduplication via directKey and auto-adds both users as participants.
func (s *SQLiteStore) CreateDirectConversation(ctx context.Context, directKey, user1ID, user2ID string) (*store.Conversation, bool, error) {
	existing, err := s.getConversationByDirectKey(ctx, directKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("check existing conversation: %w", err)
	}
	return s.insertDirectConversation(ctx, directKey, user1ID, user2ID)
}

// insertDirectConversation inserts the conversation, falling back to the
// existing one when a concurrent insert won the direct_key constraint.
func (s *SQLiteStore) insertDirectConversation(ctx context.Context, directKey, user1ID, user2ID string) (*store.Conversation, bool, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, name, created_by, direct_key)
		VALUES (?, ?, '', ?, ?)
	`, id, store.ConversationTypeDirect, user1ID, directKey); err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback() //nolint:errcheck // release the connection before re-reading
			existing, getErr := s.getConversationByDirectKey(ctx, directKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("load existing direct conversation: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert direct conversation: %w", err)
	}

	if err := addParticipants(ctx, tx, id, []string{user1ID, user2ID}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func addParticipants(ctx context.Context, tx *sql.Tx, conversationID string, userIDs []string) error {
	for _, userID := range lo.Uniq(userIDs) {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id)
			VALUES (?, ?)
		`, conversationID, userID); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return nil
}

const conversationColumns = `id, type, name, created_by, direct_key, last_message_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var conv store.Conversation
	var directKey, lastMessageID sql.NullString
	if err := row.Scan(
		&conv.ID,
		&conv.Type,
		&conv.Name,
		&conv.CreatedBy,
		&directKey,
		&lastMessageID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if directKey.Valid {
		conv.DirectKey = &directKey.String
	}
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.String
	}
	return &conv, nil
}

// GetConversation retrieves a conversation with its participants.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, notFound("conversation", err)
	}
	if conv.ParticipantIDs, err = s.listParticipants(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLiteStore) getConversationByDirectKey(ctx context.Context, directKey string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key = ?`, directKey)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, notFound("conversation", err)
	}
	if conv.ParticipantIDs, err = s.listParticipants(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations lists conversations the user participates in, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	columns := "c." + strings.ReplaceAll(conversationColumns, ", ", ", c.")
	query := `
		SELECT ` + columns + `
		FROM conversations c
		INNER JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	var convs []*store.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Participants are loaded after the cursor is closed: the pool has one connection.
	for _, conv := range convs {
		if conv.ParticipantIDs, err = s.listParticipants(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at, user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsParticipant checks if the user participates in the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return count > 0, nil
}

// SetLastMessage records the latest message of a conversation.
func (s *SQLiteStore) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?, updated_at = ?
		WHERE id = ?
	`, messageID, time.Now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation: %w", store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message, assigning ID and CreatedAt when empty.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.ReplyToID, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, sender_id, content, reply_to_id, created_at`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var replyTo sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &replyTo, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if replyTo.Valid {
		msg.ReplyToID = &replyTo.String
	}
	return &msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// ListMessages retrieves messages of a conversation, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
