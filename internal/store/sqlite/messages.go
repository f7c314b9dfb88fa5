package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/vovakirdan/agora-server/internal/store"
)

// ==== MessageStore implementation ====

// Append persists a fully constructed message and returns the stored copy.
func (s *SQLiteStore) Append(ctx context.Context, msg *store.Message) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO messages (id, channel_id, sender_id, content, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, msg.ID, msg.ChannelID, msg.SenderID, msg.Content, msg.SentAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	for i, attachmentID := range msg.AttachmentIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_attachments (message_id, attachment_id, position)
			VALUES (?, ?, ?)
		`, msg.ID, attachmentID, i); err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	stored := *msg
	stored.Read = false
	stored.AttachmentIDs = append([]string(nil), msg.AttachmentIDs...)
	return &stored, nil
}

// GetMessage retrieves a message by ID. Read reports whether any recipient has read it.
func (s *SQLiteStore) GetMessage(ctx context.Context, id store.MessageID) (*store.Message, error) {
	query := `
		SELECT m.id, m.channel_id, m.sender_id, m.content, m.sent_at,
			EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id)
		FROM messages m
		WHERE m.id = ?
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.SenderID,
		&msg.Content,
		&msg.SentAt,
		&msg.Read,
	)
	if err != nil {
		return nil, notFound("message", err)
	}

	if err := s.loadAttachments(ctx, []*store.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead records every message in the channel not sent by userID as read by userID.
// Returns the number of messages that were unread for that user.
func (s *SQLiteStore) MarkRead(ctx context.Context, channelID store.ChannelID, userID store.UserID) (int64, error) {
	query := `
		INSERT OR IGNORE INTO message_reads (message_id, user_id)
		SELECT m.id, ? FROM messages m
		WHERE m.channel_id = ? AND m.sender_id <> ?
			AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)
	`
	result, err := s.db.ExecContext(ctx, query, userID, channelID, userID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// CountUnread counts messages in a channel not sent by userID that userID has not read.
func (s *SQLiteStore) CountUnread(ctx context.Context, channelID store.ChannelID, userID store.UserID) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages m
		WHERE m.channel_id = ? AND m.sender_id <> ?
			AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, channelID, userID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// readColumn computes Message.Read for a reader: their own messages count as read once
// any recipient has read them, other messages once the reader has.
const readColumn = `EXISTS (
			SELECT 1 FROM message_reads r
			WHERE r.message_id = m.id AND (r.user_id = ? OR m.sender_id = ?)
		)`

// ListPage returns one page of channel history in chronological order.
// Read is computed for reader.
func (s *SQLiteStore) ListPage(ctx context.Context, channelID store.ChannelID, reader store.UserID, pageSize, pageNumber int) ([]*store.Message, error) {
	if pageSize <= 0 {
		return []*store.Message{}, nil
	}
	if pageNumber < 1 {
		pageNumber = 1
	}

	query := `
		SELECT m.id, m.channel_id, m.sender_id, m.content, m.sent_at, ` + readColumn + `
		FROM messages m
		WHERE m.channel_id = ?
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`
	messages, err := s.queryMessages(ctx, query, reader, reader, channelID, pageSize, (pageNumber-1)*pageSize)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

// Search returns messages whose content contains term, newest first.
func (s *SQLiteStore) Search(ctx context.Context, channelID store.ChannelID, reader store.UserID, term string, limit int) ([]*store.Message, error) {
	term = strings.TrimSpace(term)
	if term == "" || limit <= 0 {
		return []*store.Message{}, nil
	}

	query := `
		SELECT m.id, m.channel_id, m.sender_id, m.content, m.sent_at, ` + readColumn + `
		FROM messages m
		WHERE m.channel_id = ? AND m.content LIKE ? ESCAPE '\'
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT ?
	`
	return s.queryMessages(ctx, query, reader, reader, channelID, "%"+escapeLike(term)+"%", limit)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*store.Message{}
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.SenderID, &msg.Content, &msg.SentAt, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if err := s.loadAttachments(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLiteStore) loadAttachments(ctx context.Context, messages []*store.Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[store.MessageID]*store.Message, len(messages))
	args := make([]any, 0, len(messages))
	for _, msg := range messages {
		byID[msg.ID] = msg
		args = append(args, msg.ID)
	}

	query := `
		SELECT message_id, attachment_id
		FROM message_attachments
		WHERE message_id IN (` + placeholders(len(args)) + `)
		ORDER BY message_id, position ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID store.MessageID
		var attachmentID string
		if err := rows.Scan(&messageID, &attachmentID); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.AttachmentIDs = append(msg.AttachmentIDs, attachmentID)
		}
	}

	return rows.Err()
}

// ==== ReactionStore implementation ====

// AddReaction records a reaction and returns the message's raw reactions afterwards.
func (s *SQLiteStore) AddReaction(ctx context.Context, messageID store.MessageID, userID store.UserID, emoji string) ([]store.Reaction, error) {
	query := `
		INSERT OR IGNORE INTO reactions (message_id, user_id, emoji)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, messageID, userID, emoji); err != nil {
		return nil, fmt.Errorf("insert reaction: %w", err)
	}
	return s.ListReactions(ctx, messageID)
}

// RemoveReaction deletes a reaction and returns the message's raw reactions afterwards.
func (s *SQLiteStore) RemoveReaction(ctx context.Context, messageID store.MessageID, userID store.UserID, emoji string) ([]store.Reaction, error) {
	query := `
		DELETE FROM reactions
		WHERE message_id = ? AND user_id = ? AND emoji = ?
	`
	if _, err := s.db.ExecContext(ctx, query, messageID, userID, emoji); err != nil {
		return nil, fmt.Errorf("delete reaction: %w", err)
	}
	return s.ListReactions(ctx, messageID)
}

// ListReactions returns the raw reactions of a message in insertion order.
func (s *SQLiteStore) ListReactions(ctx context.Context, messageID store.MessageID) ([]store.Reaction, error) {
	byMessage, err := s.ListReactionsFor(ctx, []store.MessageID{messageID})
	if err != nil {
		return nil, err
	}
	reactions := byMessage[messageID]
	if reactions == nil {
		reactions = []store.Reaction{}
	}
	return reactions, nil
}

// ListReactionsFor returns raw reactions for several messages keyed by message ID.
func (s *SQLiteStore) ListReactionsFor(ctx context.Context, messageIDs []store.MessageID) (map[store.MessageID][]store.Reaction, error) {
	result := make(map[store.MessageID][]store.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(messageIDs))
	for _, id := range messageIDs {
		args = append(args, id)
	}

	query := `
		SELECT message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id IN (` + placeholders(len(args)) + `)
		ORDER BY rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r store.Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		result[r.MessageID] = append(result[r.MessageID], r)
	}

	return result, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
