package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tbrandal/backscroll/internal/chat"
)

// ReadCursorRepository stores the per-channel "read up to" cursor. Cursors
// only move forward; a stale mark-read signal can never rewind one.
type ReadCursorRepository struct {
	db *DB
}

// NewReadCursorRepository creates a repository over the given database.
func NewReadCursorRepository(db *DB) *ReadCursorRepository {
	return &ReadCursorRepository{db: db}
}

// Get returns the channel's read cursor message id, or "" when the channel
// has never been read.
func (r *ReadCursorRepository) Get(ctx context.Context, channelID string) (string, error) {
	var messageID string
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT message_id FROM read_cursors WHERE channel_id = ?`, channelID,
	).Scan(&messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get read cursor: %w", err)
	}
	return messageID, nil
}

// Advance moves the channel's cursor to messageID if that message is newer
// than the current cursor. Older or equal marks are no-ops. The
// resolve/compare/upsert runs in one transaction so concurrent marks cannot
// interleave and rewind the cursor.
func (r *ReadCursorRepository) Advance(ctx context.Context, channelID, messageID string) error {
	return r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		target, err := messagePosition(ctx, tx, messageID)
		if err != nil {
			return fmt.Errorf("resolve mark target: %w", err)
		}

		var current string
		err = tx.QueryRowContext(ctx,
			`SELECT message_id FROM read_cursors WHERE channel_id = ?`, channelID,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("get read cursor: %w", err)
		}
		if current != "" {
			cursor, err := messagePosition(ctx, tx, current)
			if err == nil && chat.Compare(target, cursor) <= 0 {
				return nil
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO read_cursors (channel_id, message_id, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(channel_id) DO UPDATE SET message_id = excluded.message_id, updated_at = excluded.updated_at`,
			channelID, messageID, formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("advance read cursor: %w", err)
		}
		return nil
	})
}

// messagePosition loads just enough of a message to compare log positions.
func messagePosition(ctx context.Context, tx *sql.Tx, id string) (chat.Message, error) {
	var createdAt string
	err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE id = ?`, id,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("parse created_at: %w", err)
	}
	return chat.Message{ID: id, CreatedAt: created}, nil
}
