package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tbrandal/backscroll/internal/chat"
)

// Message repository errors.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidMessage  = errors.New("invalid message")
)

// timeLayout is fixed-width so stored timestamps compare correctly as
// strings, which the cursor predicates rely on.
const timeLayout = "2006-01-02 15:04:05.000000000"

// MessageRepository persists the channel log and serves cursor-paginated
// windows over it. It is the server-side log stand-in behind the local
// source.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a repository over the given database.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert appends a message to the log. A missing id or timestamp is filled
// in; inserting an existing id fails.
func (r *MessageRepository) Insert(ctx context.Context, message *chat.Message) error {
	if message == nil {
		return ErrInvalidMessage
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.ID == "" {
		message.ID = chat.GenerateMessageID(message.CreatedAt)
	}
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	attachments, err := marshalAttachments(message.Attachments)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, created_at, edited_at, parent_id, body, attachments, system, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.ChannelID,
		message.AuthorID,
		formatTime(message.CreatedAt),
		nullableTime(message.EditedAt),
		nullableString(message.ParentID),
		message.Body,
		attachments,
		boolToInt(message.System),
		boolToInt(message.Deleted),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Update replaces the editable fields of a message by id.
func (r *MessageRepository) Update(ctx context.Context, message chat.Message) error {
	attachments, err := marshalAttachments(message.Attachments)
	if err != nil {
		return err
	}
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE messages SET body = ?, attachments = ?, edited_at = ? WHERE id = ?`,
		message.Body, attachments, nullableTime(message.EditedAt), message.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireRow(res)
}

// MarkDeleted tombstones a message in place, keeping its log slot.
func (r *MessageRepository) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE messages SET deleted = 1, body = '', attachments = NULL, edited_at = ? WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(res)
}

// Get fetches one message by id.
func (r *MessageRepository) Get(ctx context.Context, id string) (chat.Message, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT id, channel_id, author_id, created_at, edited_at, parent_id, body, attachments, system, deleted
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListBefore returns up to limit messages strictly older than the cursor,
// newest-first, plus whether the channel's true first message was reached.
// An empty cursor lists from the live head.
func (r *MessageRepository) ListBefore(ctx context.Context, channelID, cursorID string, limit int) ([]chat.Message, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("limit must be positive")
	}

	query := `
		SELECT id, channel_id, author_id, created_at, edited_at, parent_id, body, attachments, system, deleted
		FROM messages WHERE channel_id = ?`
	args := []any{channelID}
	if cursorID != "" {
		cursor, err := r.Get(ctx, cursorID)
		if err != nil {
			return nil, false, fmt.Errorf("resolve cursor: %w", err)
		}
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		created := formatTime(cursor.CreatedAt)
		args = append(args, created, created, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	messages, err := r.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	reachedOldest := len(messages) <= limit
	if !reachedOldest {
		messages = messages[:limit]
	}
	return messages, reachedOldest, nil
}

// ListAfter returns up to limit messages strictly newer than the cursor,
// newest-first, plus whether the live head was reached.
func (r *MessageRepository) ListAfter(ctx context.Context, channelID, cursorID string, limit int) ([]chat.Message, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("limit must be positive")
	}
	cursor, err := r.Get(ctx, cursorID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve cursor: %w", err)
	}

	created := formatTime(cursor.CreatedAt)
	messages, err := r.queryMessages(ctx, `
		SELECT id, channel_id, author_id, created_at, edited_at, parent_id, body, attachments, system, deleted
		FROM messages
		WHERE channel_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		channelID, created, created, cursor.ID, limit+1,
	)
	if err != nil {
		return nil, false, err
	}
	reachedNewest := len(messages) <= limit
	if !reachedNewest {
		messages = messages[:limit]
	}
	reverse(messages)
	return messages, reachedNewest, nil
}

// ListAround returns a window split around the cursor: the cursor message,
// up to before older and up to after newer ones, newest-first.
func (r *MessageRepository) ListAround(ctx context.Context, channelID, cursorID string, before, after int) ([]chat.Message, bool, bool, error) {
	cursor, err := r.Get(ctx, cursorID)
	if err != nil {
		return nil, false, false, fmt.Errorf("resolve cursor: %w", err)
	}

	reachedOldest := true
	var older []chat.Message
	if before > 0 {
		older, reachedOldest, err = r.ListBefore(ctx, channelID, cursorID, before)
		if err != nil {
			return nil, false, false, err
		}
	}
	reachedNewest := true
	var newer []chat.Message
	if after > 0 {
		newer, reachedNewest, err = r.ListAfter(ctx, channelID, cursorID, after)
		if err != nil {
			return nil, false, false, err
		}
	}

	window := make([]chat.Message, 0, len(older)+len(newer)+1)
	window = append(window, newer...)
	window = append(window, cursor)
	window = append(window, older...)
	return window, reachedOldest, reachedNewest, nil
}

// ListSince returns every message created after the given time,
// newest-first.
func (r *MessageRepository) ListSince(ctx context.Context, channelID string, since time.Time) ([]chat.Message, error) {
	return r.queryMessages(ctx, `
		SELECT id, channel_id, author_id, created_at, edited_at, parent_id, body, attachments, system, deleted
		FROM messages
		WHERE channel_id = ? AND created_at > ?
		ORDER BY created_at DESC, id DESC`,
		channelID, formatTime(since),
	)
}

func (r *MessageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (chat.Message, error) {
	var (
		msg         chat.Message
		createdAt   string
		editedAt    sql.NullString
		parentID    sql.NullString
		attachments sql.NullString
		system      int
		deleted     int
	)
	err := row.Scan(
		&msg.ID, &msg.ChannelID, &msg.AuthorID,
		&createdAt, &editedAt, &parentID,
		&msg.Body, &attachments, &system, &deleted,
	)
	if err != nil {
		return chat.Message{}, err
	}

	msg.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("parse created_at: %w", err)
	}
	if editedAt.Valid && editedAt.String != "" {
		msg.EditedAt, err = parseTime(editedAt.String)
		if err != nil {
			return chat.Message{}, fmt.Errorf("parse edited_at: %w", err)
		}
	}
	msg.ParentID = parentID.String
	msg.System = system != 0
	msg.Deleted = deleted != 0
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return chat.Message{}, fmt.Errorf("parse attachments: %w", err)
		}
	}
	return msg, nil
}

func marshalAttachments(attachments []chat.Attachment) (sql.NullString, error) {
	if len(attachments) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal attachments: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(timeLayout, raw)
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverse(messages []chat.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
