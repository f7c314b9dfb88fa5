package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/store"
)

// Common errors for channel directory operations.
var (
	ErrInvalidName   = errors.New("name must be 1-64 characters")
	ErrUserNotFound  = errors.New("user not found")
	ErrNotPrivate    = errors.New("channel is not a private community channel")
	ErrInvalidStatus = errors.New("invalid membership status")
)

// Summary is a channel the user can access, with their unread count.
type Summary struct {
	Channel *store.Channel
	Unread  int
}

// Service provides the channel directory and community administration.
type Service struct {
	store store.Store
	guard *core.AccessGuard
}

// New creates a new channel Service.
func New(st store.Store, guard *core.AccessGuard) *Service {
	return &Service{
		store: st,
		guard: guard,
	}
}

// ListChannels returns every channel the user can access, direct channels included.
func (s *Service) ListChannels(ctx context.Context, userID store.UserID) ([]Summary, error) {
	ids, err := s.guard.AccessibleChannels(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		ch, err := s.store.GetChannel(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get channel %d: %w", id, err)
		}
		unread, err := s.store.CountUnread(ctx, id, userID)
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		summaries = append(summaries, Summary{Channel: ch, Unread: unread})
	}
	return summaries, nil
}

// CreateCommunity creates a community with the given name.
func (s *Service) CreateCommunity(ctx context.Context, name string) (*store.Community, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	community, err := s.store.CreateCommunity(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create community: %w", err)
	}
	return community, nil
}

// SetMembership sets a user's membership status in a community.
func (s *Service) SetMembership(ctx context.Context, communityID store.CommunityID, userID store.UserID, status store.MembershipStatus) error {
	switch status {
	case store.MembershipPending, store.MembershipAccepted, store.MembershipBanned:
	default:
		return ErrInvalidStatus
	}

	// Check if target user exists
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return ErrUserNotFound
	}

	if err := s.store.SetMembership(ctx, communityID, userID, status); err != nil {
		return fmt.Errorf("set membership: %w", err)
	}
	return nil
}

// CreateChannel creates a channel in a community.
func (s *Service) CreateChannel(ctx context.Context, communityID store.CommunityID, name, description string, private bool) (*store.Channel, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	ch, err := s.store.CreateChannel(ctx, communityID, name, strings.TrimSpace(description), private)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	return ch, nil
}

// AllowPrivateMember adds a user to a private channel's allowed-members overlay.
func (s *Service) AllowPrivateMember(ctx context.Context, channelID store.ChannelID, userID store.UserID) error {
	if err := s.requirePrivate(ctx, channelID); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return ErrUserNotFound
	}
	if err := s.store.AddOverlayMember(ctx, channelID, userID); err != nil {
		return fmt.Errorf("add overlay member: %w", err)
	}
	return nil
}

// RevokePrivateMember removes a user from a private channel's overlay.
// Live subscriptions are not evicted; the next action is denied.
func (s *Service) RevokePrivateMember(ctx context.Context, channelID store.ChannelID, userID store.UserID) error {
	if err := s.requirePrivate(ctx, channelID); err != nil {
		return err
	}
	if err := s.store.RemoveOverlayMember(ctx, channelID, userID); err != nil {
		return fmt.Errorf("remove overlay member: %w", err)
	}
	return nil
}

func (s *Service) requirePrivate(ctx context.Context, channelID store.ChannelID) error {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("get channel: %w", err)
	}
	if ch.IsDirect() || !ch.Private {
		return ErrNotPrivate
	}
	return nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return "", ErrInvalidName
	}
	return name, nil
}
