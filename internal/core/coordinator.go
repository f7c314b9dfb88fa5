package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/metrics"
	"github.com/vovakirdan/agora-server/internal/store"
	"github.com/vovakirdan/agora-server/internal/utils"
)

// Coordinator runs message and reaction actions: access check, persistence, fan-out.
//
// Once an action passes validation it runs on a context detached from the caller's
// cancellation, so a disconnect cannot leave a message persisted but undelivered.
type Coordinator struct {
	guard     *AccessGuard
	repo      Repository
	rooms     *Rooms
	registry  *Registry
	publisher Publisher
	limits    Limits
	log       zerolog.Logger
	metrics   *metrics.Metrics

	now     func() time.Time
	newID   func() store.MessageID
	eventID func() string
}

func (c *Coordinator) authorize(ctx context.Context, channelID store.ChannelID, userID store.UserID, action string) (*store.Channel, error) {
	ch, err := c.guard.Authorize(ctx, channelID, userID)
	if err != nil && errors.Is(err, ErrAccessDenied) {
		c.metrics.Denied(action)
		c.log.Debug().
			Int64("user_id", int64(userID)).
			Int64("channel_id", int64(channelID)).
			Str("action", action).
			Msg("access denied")
	}
	return ch, err
}

// SendMessage persists a message and broadcasts message_created to the channel room.
// Access is checked before the content, so an outsider always gets ErrAccessDenied.
// Delivery failures to individual sessions never fail the call.
func (c *Coordinator) SendMessage(ctx context.Context, sender store.UserID, channelID store.ChannelID, content string, attachments []string) (*store.Message, error) {
	ctx = context.WithoutCancel(ctx)

	if _, err := c.authorize(ctx, channelID, sender, "send"); err != nil {
		return nil, err
	}
	if err := validateContent(content, attachments, c.limits.MaxMessageBytes); err != nil {
		return nil, err
	}

	msg := newMessage(c.newID(), channelID, sender, content, attachments, c.now())
	stored, err := c.repo.Append(ctx, msg)
	if err != nil {
		return nil, storageError("append message", err)
	}
	if stored.Reactions == nil {
		stored.Reactions = []store.ReactionSummary{}
	}
	c.metrics.MessageSent()

	c.emit(ctx, &Event{
		Kind:      EventMessageCreated,
		Channel:   channelID,
		User:      sender,
		Message:   stored,
		MessageID: stored.ID,
	})
	return stored, nil
}

// MarkRead marks the channel's unread messages from other senders as read for userID.
// The user's other sessions are told; origin is the session that asked.
func (c *Coordinator) MarkRead(ctx context.Context, channelID store.ChannelID, userID store.UserID, origin SessionID) (int64, error) {
	ctx = context.WithoutCancel(ctx)

	if _, err := c.authorize(ctx, channelID, userID, "mark_read"); err != nil {
		return 0, err
	}

	n, err := c.repo.MarkRead(ctx, channelID, userID)
	if err != nil {
		return 0, storageError("mark read", err)
	}

	c.emitToUser(ctx, userID, origin, &Event{
		Kind:    EventMessagesMarkedRead,
		Channel: channelID,
		User:    userID,
	})
	return n, nil
}

// AddReaction adds the user's reaction and broadcasts the message's new summary.
func (c *Coordinator) AddReaction(ctx context.Context, userID store.UserID, messageID store.MessageID, emoji string) ([]store.ReactionSummary, error) {
	return c.changeReaction(ctx, userID, messageID, emoji, "add")
}

// RemoveReaction removes the user's reaction and broadcasts the message's new summary.
// Removing a reaction that does not exist succeeds and still broadcasts.
func (c *Coordinator) RemoveReaction(ctx context.Context, userID store.UserID, messageID store.MessageID, emoji string) ([]store.ReactionSummary, error) {
	return c.changeReaction(ctx, userID, messageID, emoji, "remove")
}

func (c *Coordinator) changeReaction(ctx context.Context, userID store.UserID, messageID store.MessageID, emoji, op string) ([]store.ReactionSummary, error) {
	ctx = context.WithoutCancel(ctx)

	msg, err := c.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := c.authorize(ctx, msg.ChannelID, userID, "react"); err != nil {
		return nil, err
	}
	emoji, err = normalizeEmoji(emoji)
	if err != nil {
		return nil, err
	}

	var raw []store.Reaction
	if op == "add" {
		raw, err = c.repo.AddReaction(ctx, messageID, userID, emoji)
	} else {
		raw, err = c.repo.RemoveReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return nil, storageError(op+" reaction", err)
	}
	c.metrics.ReactionChanged(op)

	summary := AggregateReactions(raw)
	c.emit(ctx, &Event{
		Kind:      EventReactionsUpdated,
		Channel:   msg.ChannelID,
		User:      userID,
		MessageID: messageID,
		Reactions: summary,
	})
	return summary, nil
}

// Reactions returns the aggregated reactions of a message the user can see.
func (c *Coordinator) Reactions(ctx context.Context, userID store.UserID, messageID store.MessageID) ([]store.ReactionSummary, error) {
	msg, err := c.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := c.authorize(ctx, msg.ChannelID, userID, "read"); err != nil {
		return nil, err
	}
	raw, err := c.repo.ListReactions(ctx, messageID)
	if err != nil {
		return nil, storageError("list reactions", err)
	}
	return AggregateReactions(raw), nil
}

// History returns one page of channel history with reactions attached.
// Page 1 holds the newest messages; each page is in chronological order.
func (c *Coordinator) History(ctx context.Context, userID store.UserID, channelID store.ChannelID, pageSize, page int) ([]*store.Message, error) {
	if page <= 0 {
		page = 1
	}
	if _, err := c.authorize(ctx, channelID, userID, "read"); err != nil {
		return nil, err
	}
	msgs, err := c.repo.ListPage(ctx, channelID, userID, c.limits.pageSize(pageSize), page)
	if err != nil {
		return nil, storageError("list messages", err)
	}
	return c.withReactions(ctx, msgs)
}

// Search returns channel messages containing term, newest first.
func (c *Coordinator) Search(ctx context.Context, userID store.UserID, channelID store.ChannelID, term string, limit int) ([]*store.Message, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("%w: search term is required", ErrBadRequest)
	}
	if _, err := c.authorize(ctx, channelID, userID, "read"); err != nil {
		return nil, err
	}
	msgs, err := c.repo.Search(ctx, channelID, userID, term, c.limits.pageSize(limit))
	if err != nil {
		return nil, storageError("search messages", err)
	}
	return c.withReactions(ctx, msgs)
}

// UnreadCount returns how many messages from other senders the user has not read.
func (c *Coordinator) UnreadCount(ctx context.Context, userID store.UserID, channelID store.ChannelID) (int, error) {
	if _, err := c.authorize(ctx, channelID, userID, "read"); err != nil {
		return 0, err
	}
	n, err := c.repo.CountUnread(ctx, channelID, userID)
	if err != nil {
		return 0, storageError("count unread", err)
	}
	return n, nil
}

func (c *Coordinator) message(ctx context.Context, id store.MessageID) (*store.Message, error) {
	msg, err := c.repo.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, storageError("get message", err)
	}
	return msg, nil
}

func (c *Coordinator) withReactions(ctx context.Context, msgs []*store.Message) ([]*store.Message, error) {
	if len(msgs) == 0 {
		return []*store.Message{}, nil
	}
	ids := make([]store.MessageID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	raw, err := c.repo.ListReactionsFor(ctx, ids)
	if err != nil {
		return nil, storageError("list reactions", err)
	}
	for _, m := range msgs {
		m.Reactions = AggregateReactions(raw[m.ID])
	}
	return msgs, nil
}

// emit broadcasts ev to the local room and forwards it to other instances.
func (c *Coordinator) emit(ctx context.Context, ev *Event) {
	if ev.ID == "" {
		ev.ID = c.eventID()
	}
	c.rooms.Broadcast(ev.Channel, ev)
	c.publish(ctx, ev, "")
}

// emitToUser delivers ev to every live session of userID except exclude.
func (c *Coordinator) emitToUser(ctx context.Context, userID store.UserID, exclude SessionID, ev *Event) {
	if ev.ID == "" {
		ev.ID = c.eventID()
	}
	c.deliverToUser(userID, exclude, ev)
	c.publish(ctx, ev, exclude)
}

func (c *Coordinator) deliverToUser(userID store.UserID, exclude SessionID, ev *Event) {
	for _, sessionID := range c.registry.SessionsFor(userID) {
		if sessionID == exclude {
			continue
		}
		if err := c.registry.Send(sessionID, ev); err != nil {
			c.metrics.DeliveryFailed(deliveryReason(err))
			c.log.Debug().Err(err).Str("session_id", string(sessionID)).Stringer("event", ev.Kind).Msg("drop event for session")
			continue
		}
		c.metrics.Delivered(ev.Kind.String())
	}
}

func (c *Coordinator) publish(ctx context.Context, ev *Event, exclude SessionID) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, ev, exclude); err != nil {
		c.log.Warn().Err(err).Str("event_id", ev.ID).Stringer("event", ev.Kind).Msg("relay publish failed")
	}
}

func defaultMessageID() store.MessageID {
	return store.MessageID(utils.NewOrderedID())
}
