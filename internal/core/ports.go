package core

import (
	"context"

	"github.com/vovakirdan/agora-server/internal/store"
)

// IdentityResolver maps the credentials presented at connection time to a user.
// Invalid or missing credentials must yield an error wrapping ErrUnauthenticated.
type IdentityResolver interface {
	ResolveCurrentUser(ctx context.Context, credentials string) (store.UserID, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, credentials string) (store.UserID, error)

func (f IdentityResolverFunc) ResolveCurrentUser(ctx context.Context, credentials string) (store.UserID, error) {
	return f(ctx, credentials)
}

// MembershipReader answers the access questions of the channel guard.
type MembershipReader interface {
	GetChannel(ctx context.Context, id store.ChannelID) (*store.Channel, error)
	IsAcceptedMember(ctx context.Context, communityID store.CommunityID, userID store.UserID) (bool, error)
	IsInPrivateChannelOverlay(ctx context.Context, channelID store.ChannelID, userID store.UserID) (bool, error)
	ListUserCommunityChannels(ctx context.Context, userID store.UserID) ([]store.ChannelID, error)
	ListUserDirectChannels(ctx context.Context, userID store.UserID) ([]store.ChannelID, error)
}

// Repository is the subset of storage the realtime core depends on.
type Repository interface {
	MembershipReader
	store.MessageStore
	store.ReactionStore
	GetUserByID(ctx context.Context, id store.UserID) (*store.User, error)
	GetOrCreateDirectChannel(ctx context.Context, a, b store.UserID) (*store.Channel, bool, error)
}

// Publisher forwards locally emitted events to other server instances.
// exclude names a session that must not receive a user-targeted event.
type Publisher interface {
	Publish(ctx context.Context, ev *Event, exclude SessionID) error
}
