package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
// ID is echoed on the matching ack or error so clients can correlate replies.
type Inbound struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello      = "hello"
	InboundTypeJoin       = "join"
	InboundTypeLeave      = "leave"
	InboundTypeSend       = "send"
	InboundTypeReact      = "react"
	InboundTypeUnreact    = "unreact"
	InboundTypeMarkRead   = "mark_read"
	InboundTypeOpenDirect = "open_direct"

	OutboundTypeEvent = "event"
	OutboundTypeAck   = "ack"
	OutboundTypeError = "error"
)

// HelloData is an optional first frame announcing the client protocol.
type HelloData struct {
	Protocol int `json:"protocol,omitempty"`
}

// ChannelData addresses a channel (join, leave, mark_read).
type ChannelData struct {
	ChannelID int64 `json:"channel_id"`
}

// SendData is a chat message from the client.
type SendData struct {
	ChannelID     int64    `json:"channel_id"`
	Content       string   `json:"content"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// ReactData adds or removes an emoji reaction.
type ReactData struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// OpenDirectData asks for the direct channel with another user.
type OpenDirectData struct {
	UserID int64 `json:"user_id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Event   string `json:"event,omitempty"`
	EventID string `json:"event_id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Message is the wire form of a chat message.
type Message struct {
	ID            string            `json:"id"`
	ChannelID     int64             `json:"channel_id"`
	SenderID      int64             `json:"sender_id"`
	Content       string            `json:"content"`
	SentAt        time.Time         `json:"sent_at"`
	Read          bool              `json:"read"`
	AttachmentIDs []string          `json:"attachment_ids,omitempty"`
	Reactions     []ReactionSummary `json:"reactions,omitempty"`
}

// ReactionSummary groups the users that reacted with one emoji.
type ReactionSummary struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users"`
}

// Channel is the wire form of a channel.
type Channel struct {
	ID          int64   `json:"id"`
	Kind        string  `json:"kind"`
	CommunityID *int64  `json:"community_id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Private     bool    `json:"private"`
	Members     []int64 `json:"members,omitempty"`
	Unread      *int    `json:"unread,omitempty"`
}

// EventMessageCreated carries a freshly persisted message.
type EventMessageCreated struct {
	Message Message `json:"message"`
}

// EventReactionsUpdated carries the full reaction summary after a change.
type EventReactionsUpdated struct {
	ChannelID int64             `json:"channel_id"`
	MessageID string            `json:"message_id"`
	Reactions []ReactionSummary `json:"reactions"`
}

// EventMembership notifies that a user joined or left a channel.
type EventMembership struct {
	ChannelID int64 `json:"channel_id"`
	UserID    int64 `json:"user_id"`
}

// EventMarkedRead tells the user's other sessions that a channel was read.
type EventMarkedRead struct {
	ChannelID int64 `json:"channel_id"`
	UserID    int64 `json:"user_id"`
}

// AckSend acknowledges a send with the stored message.
type AckSend struct {
	Message Message `json:"message"`
}

// AckChannel acknowledges join, leave and open_direct.
type AckChannel struct {
	ChannelID int64 `json:"channel_id"`
}

// AckReactions acknowledges react and unreact.
type AckReactions struct {
	MessageID string            `json:"message_id"`
	Reactions []ReactionSummary `json:"reactions"`
}

// AckMarkRead acknowledges mark_read with the number of messages flipped.
type AckMarkRead struct {
	ChannelID int64 `json:"channel_id"`
	Marked    int64 `json:"marked"`
}

// AckHello acknowledges the hello frame.
type AckHello struct {
	Protocol int   `json:"protocol"`
	UserID   int64 `json:"user_id"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
