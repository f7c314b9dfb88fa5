package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/store"
)

// SessionState is the lifecycle stage of a session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one authenticated connection of a user.
// Commands from one session may run concurrently; Close is idempotent.
type Session struct {
	ID     SessionID
	UserID store.UserID

	hub   *Hub
	state atomic.Int32
	log   zerolog.Logger

	mu     sync.Mutex
	joined map[store.ChannelID]struct{}

	closeOnce sync.Once
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Channels returns the channels whose rooms the session is subscribed to.
func (s *Session) Channels() []store.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]store.ChannelID, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	return ids
}

// Handle executes one client command on behalf of the session's user.
func (s *Session) Handle(ctx context.Context, cmd *Command) (*Result, error) {
	if s.State() != StateActive || !s.hub.begin() {
		return nil, ErrSessionClosed
	}
	defer s.hub.inflight.Done()

	c := s.hub.coordinator
	switch cmd.Kind {
	case CommandJoinChannel:
		return s.join(ctx, cmd.Channel)
	case CommandLeaveChannel:
		return s.leave(ctx, cmd.Channel)
	case CommandSendMessage:
		msg, err := c.SendMessage(ctx, s.UserID, cmd.Channel, cmd.Content, cmd.AttachmentIDs)
		if err != nil {
			return nil, err
		}
		return &Result{Channel: msg.ChannelID, Message: msg}, nil
	case CommandAddReaction:
		summary, err := c.AddReaction(ctx, s.UserID, cmd.MessageID, cmd.Emoji)
		if err != nil {
			return nil, err
		}
		return &Result{Reactions: summary}, nil
	case CommandRemoveReaction:
		summary, err := c.RemoveReaction(ctx, s.UserID, cmd.MessageID, cmd.Emoji)
		if err != nil {
			return nil, err
		}
		return &Result{Reactions: summary}, nil
	case CommandMarkRead:
		n, err := c.MarkRead(ctx, cmd.Channel, s.UserID, s.ID)
		if err != nil {
			return nil, err
		}
		return &Result{Channel: cmd.Channel, Marked: n}, nil
	case CommandOpenDirect:
		ch, err := s.hub.OpenDirect(ctx, s.UserID, cmd.Peer)
		if err != nil {
			return nil, err
		}
		return &Result{Channel: ch.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %s", ErrBadRequest, cmd.Kind)
	}
}

// join subscribes the session to a channel it can access. Joining twice is a no-op
// and does not repeat the user_joined_channel event.
func (s *Session) join(ctx context.Context, channelID store.ChannelID) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	c := s.hub.coordinator
	if _, err := c.authorize(ctx, channelID, s.UserID, "join"); err != nil {
		return nil, err
	}
	if s.subscribe(channelID) {
		c.emit(ctx, &Event{Kind: EventUserJoinedChannel, Channel: channelID, User: s.UserID})
	}
	return &Result{Channel: channelID}, nil
}

// leave unsubscribes the session. A joined room can always be left, even after the
// user lost access to it; other channels are checked first, and leaving one the
// session is not in is a no-op.
func (s *Session) leave(ctx context.Context, channelID store.ChannelID) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	c := s.hub.coordinator
	if s.unsubscribe(channelID) {
		c.emit(ctx, &Event{Kind: EventUserLeftChannel, Channel: channelID, User: s.UserID})
		return &Result{Channel: channelID}, nil
	}
	if _, err := c.authorize(ctx, channelID, s.UserID, "leave"); err != nil {
		return nil, err
	}
	return &Result{Channel: channelID}, nil
}

// subscribe adds the session to a room unless it is already closed.
func (s *Session) subscribe(channelID store.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return false
	}
	if _, ok := s.joined[channelID]; ok {
		return false
	}
	s.joined[channelID] = struct{}{}
	s.hub.rooms.Join(channelID, s.ID)
	return true
}

func (s *Session) unsubscribe(channelID store.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.joined[channelID]; !ok {
		return false
	}
	delete(s.joined, channelID)
	s.hub.rooms.Leave(channelID, s.ID)
	return true
}

// Close removes the session from every room and from the registry.
// It does not notify other users.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		for channelID := range s.joined {
			s.hub.rooms.Leave(channelID, s.ID)
		}
		s.joined = map[store.ChannelID]struct{}{}
		s.mu.Unlock()

		s.hub.registry.Unregister(s.UserID, s.ID)
		s.hub.sessions.Delete(s.ID)
		s.hub.observePresence()
		s.log.Debug().Msg("session closed")
	})
}
