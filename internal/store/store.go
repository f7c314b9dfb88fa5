package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned (wrapped) when a referenced record does not exist.
var ErrNotFound = errors.New("not found")

// UserID identifies a user.
type UserID int64

// CommunityID identifies a community.
type CommunityID int64

// ChannelID identifies a channel.
type ChannelID int64

// MessageID identifies a message. Assigned by the server before the message is persisted.
type MessageID string

// User represents a user in the system.
type User struct {
	ID        UserID
	Username  string
	CreatedAt time.Time
}

// Community groups members and community channels.
type Community struct {
	ID        CommunityID
	Name      string
	CreatedAt time.Time
}

// MembershipStatus defines the state of a user's community membership.
type MembershipStatus string

const (
	MembershipPending  MembershipStatus = "pending"
	MembershipAccepted MembershipStatus = "accepted"
	MembershipBanned   MembershipStatus = "banned"
)

// ChannelKind defines different kinds of channels.
type ChannelKind string

const (
	ChannelKindCommunity ChannelKind = "community"
	ChannelKindDirect    ChannelKind = "direct"
)

// Channel represents a communication scope.
type Channel struct {
	ID          ChannelID
	Kind        ChannelKind
	CommunityID *CommunityID // nil for direct channels
	Name        string
	Description string
	Private     bool
	DirectKey   *string  // for direct channels: "dm:{minUserId}:{maxUserId}"
	Members     []UserID // direct participants, or the allowed-members overlay of a private channel
	CreatedAt   time.Time
}

// IsDirect reports whether the channel is a two-party direct channel.
func (c *Channel) IsDirect() bool {
	return c.Kind == ChannelKindDirect
}

// HasMember reports whether userID is listed in Members.
func (c *Channel) HasMember(userID UserID) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectKey returns the deduplication key for a direct channel between two users.
func DirectKey(a, b UserID) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

// Message represents a persisted chat message.
type Message struct {
	ID            MessageID
	ChannelID     ChannelID
	SenderID      UserID
	Content       string
	SentAt        time.Time
	Read          bool // from one reader's view, see MessageStore
	AttachmentIDs []string
	Reactions     []ReactionSummary // filled on reads, never persisted
}

// Reaction is a single raw (message, user, emoji) row.
type Reaction struct {
	MessageID MessageID
	UserID    UserID
	Emoji     string
	CreatedAt time.Time
}

// ReactionSummary is the emoji-grouped view of the raw reactions on a message.
type ReactionSummary struct {
	Emoji string
	Count int
	Users []UserID
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user.
	CreateUser(ctx context.Context, username string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id UserID) (*User, error)
}

// CommunityStore handles communities and their membership.
type CommunityStore interface {
	// CreateCommunity creates a new community.
	CreateCommunity(ctx context.Context, name string) (*Community, error)

	// SetMembership creates or updates a user's membership status in a community.
	SetMembership(ctx context.Context, communityID CommunityID, userID UserID, status MembershipStatus) error

	// IsAcceptedMember checks if user has an accepted membership in the community.
	IsAcceptedMember(ctx context.Context, communityID CommunityID, userID UserID) (bool, error)
}

// ChannelStore handles channel persistence and the private/direct member lists.
type ChannelStore interface {
	// CreateChannel creates a community channel.
	CreateChannel(ctx context.Context, communityID CommunityID, name, description string, private bool) (*Channel, error)

	// GetChannel retrieves a channel by ID, including its member list.
	GetChannel(ctx context.Context, id ChannelID) (*Channel, error)

	// GetOrCreateDirectChannel returns the direct channel between two users,
	// creating it on first use. created reports whether this call created it.
	GetOrCreateDirectChannel(ctx context.Context, a, b UserID) (ch *Channel, created bool, err error)

	// AddOverlayMember allows a user into a private community channel.
	AddOverlayMember(ctx context.Context, channelID ChannelID, userID UserID) error

	// RemoveOverlayMember revokes a user's access to a private community channel.
	RemoveOverlayMember(ctx context.Context, channelID ChannelID, userID UserID) error

	// IsInPrivateChannelOverlay checks if user is in the allowed-members overlay of a channel.
	IsInPrivateChannelOverlay(ctx context.Context, channelID ChannelID, userID UserID) (bool, error)

	// ListUserCommunityChannels lists community channels the user can see.
	// Private channels are included only when the user is in their overlay.
	ListUserCommunityChannels(ctx context.Context, userID UserID) ([]ChannelID, error)

	// ListUserDirectChannels lists direct channels the user participates in.
	ListUserDirectChannels(ctx context.Context, userID UserID) ([]ChannelID, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// Append persists a fully constructed message and returns the stored copy.
	Append(ctx context.Context, msg *Message) (*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id MessageID) (*Message, error)

	// MarkRead records the channel's messages not sent by userID as read by userID.
	// Other users' read state is unaffected. Returns the number of messages newly read.
	MarkRead(ctx context.Context, channelID ChannelID, userID UserID) (int64, error)

	// CountUnread counts messages in a channel not sent by userID that userID has not read.
	CountUnread(ctx context.Context, channelID ChannelID, userID UserID) (int, error)

	// ListPage returns one page of channel history in chronological order.
	// Page 1 holds the newest pageSize messages. Read is reported for reader: a message
	// from someone else is read once reader has read it, reader's own message once any
	// recipient has.
	ListPage(ctx context.Context, channelID ChannelID, reader UserID, pageSize, pageNumber int) ([]*Message, error)

	// Search returns messages whose content contains term, newest first.
	// Read is reported for reader as in ListPage.
	Search(ctx context.Context, channelID ChannelID, reader UserID, term string, limit int) ([]*Message, error)
}

// ReactionStore handles raw reaction rows.
type ReactionStore interface {
	// AddReaction records a reaction and returns the message's raw reactions afterwards.
	// Adding an existing (message, user, emoji) row is a no-op.
	AddReaction(ctx context.Context, messageID MessageID, userID UserID, emoji string) ([]Reaction, error)

	// RemoveReaction deletes a reaction and returns the message's raw reactions afterwards.
	RemoveReaction(ctx context.Context, messageID MessageID, userID UserID, emoji string) ([]Reaction, error)

	// ListReactions returns the raw reactions of a message in insertion order.
	ListReactions(ctx context.Context, messageID MessageID) ([]Reaction, error)

	// ListReactionsFor returns raw reactions for several messages keyed by message ID.
	ListReactionsFor(ctx context.Context, messageIDs []MessageID) (map[MessageID][]Reaction, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	CommunityStore
	ChannelStore
	MessageStore
	ReactionStore

	// Close closes the underlying database connection.
	Close() error
}
