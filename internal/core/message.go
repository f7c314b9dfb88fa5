package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vovakirdan/agora-server/internal/store"
)

const (
	defaultMaxMessageBytes = 4000
	maxAttachments         = 10
	maxEmojiRunes          = 32
)

// Limits bounds client-provided input and history reads.
type Limits struct {
	MaxMessageBytes int
	DefaultPageSize int
	MaxPageSize     int
}

func (l Limits) withDefaults() Limits {
	if l.MaxMessageBytes <= 0 {
		l.MaxMessageBytes = defaultMaxMessageBytes
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = 50
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = 100
	}
	if l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = l.MaxPageSize
	}
	return l
}

func (l Limits) pageSize(size int) int {
	if size <= 0 {
		return l.DefaultPageSize
	}
	if size > l.MaxPageSize {
		return l.MaxPageSize
	}
	return size
}

func validateContent(content string, attachments []string, maxBytes int) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return fmt.Errorf("%w: message is empty", ErrBadRequest)
	}
	if len(content) > maxBytes {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrBadRequest, maxBytes)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: message is not valid UTF-8", ErrBadRequest)
	}
	if len(attachments) > maxAttachments {
		return fmt.Errorf("%w: at most %d attachments", ErrBadRequest, maxAttachments)
	}
	for _, id := range attachments {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty attachment id", ErrBadRequest)
		}
	}
	return nil
}

func normalizeEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return "", fmt.Errorf("%w: emoji is required", ErrBadRequest)
	}
	if utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return "", fmt.Errorf("%w: emoji too long", ErrBadRequest)
	}
	return emoji, nil
}

func newMessage(id store.MessageID, channelID store.ChannelID, sender store.UserID, content string, attachments []string, now time.Time) *store.Message {
	ids := make([]string, len(attachments))
	copy(ids, attachments)
	return &store.Message{
		ID:            id,
		ChannelID:     channelID,
		SenderID:      sender,
		Content:       content,
		SentAt:        now.UTC(),
		AttachmentIDs: ids,
	}
}
