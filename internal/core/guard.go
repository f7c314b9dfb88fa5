package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vovakirdan/agora-server/internal/store"
)

// AccessGuard decides whether a user may observe or act on a channel.
// Nothing is cached: every check reads current membership.
type AccessGuard struct {
	repo MembershipReader
}

// NewAccessGuard creates a guard over repo.
func NewAccessGuard(repo MembershipReader) *AccessGuard {
	return &AccessGuard{repo: repo}
}

// CanAccess reports whether userID may access channelID.
//
// Direct channels admit their participants. Community channels require an accepted
// membership in the owning community, and private ones additionally require the
// user in the channel's overlay.
func (g *AccessGuard) CanAccess(ctx context.Context, channelID store.ChannelID, userID store.UserID) (bool, error) {
	ch, err := g.channel(ctx, channelID)
	if err != nil {
		return false, err
	}
	return g.canAccessChannel(ctx, ch, userID)
}

// Authorize loads the channel and fails with ErrAccessDenied when userID may not access it.
func (g *AccessGuard) Authorize(ctx context.Context, channelID store.ChannelID, userID store.UserID) (*store.Channel, error) {
	ch, err := g.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ok, err := g.canAccessChannel(ctx, ch, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", channelID, ErrAccessDenied)
	}
	return ch, nil
}

// AccessibleChannels lists every channel the user can access: community channels
// (private ones only through the overlay) and direct channels.
func (g *AccessGuard) AccessibleChannels(ctx context.Context, userID store.UserID) ([]store.ChannelID, error) {
	community, err := g.repo.ListUserCommunityChannels(ctx, userID)
	if err != nil {
		return nil, storageError("list community channels", err)
	}
	direct, err := g.repo.ListUserDirectChannels(ctx, userID)
	if err != nil {
		return nil, storageError("list direct channels", err)
	}

	ids := make([]store.ChannelID, 0, len(community)+len(direct))
	ids = append(ids, community...)
	ids = append(ids, direct...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (g *AccessGuard) channel(ctx context.Context, channelID store.ChannelID) (*store.Channel, error) {
	ch, err := g.repo.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
		}
		return nil, storageError("get channel", err)
	}
	return ch, nil
}

func (g *AccessGuard) canAccessChannel(ctx context.Context, ch *store.Channel, userID store.UserID) (bool, error) {
	if ch.IsDirect() {
		return ch.HasMember(userID), nil
	}
	if ch.CommunityID == nil {
		return false, nil
	}

	member, err := g.repo.IsAcceptedMember(ctx, *ch.CommunityID, userID)
	if err != nil {
		return false, storageError("check community membership", err)
	}
	if !member {
		return false, nil
	}
	if !ch.Private {
		return true, nil
	}

	allowed, err := g.repo.IsInPrivateChannelOverlay(ctx, ch.ID, userID)
	if err != nil {
		return false, storageError("check channel overlay", err)
	}
	return allowed, nil
}
