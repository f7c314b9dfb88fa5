package core

import (
	"fmt"

	"github.com/vovakirdan/agora-server/internal/store"
)

// EventKind is a notification the core emits to sessions.
type EventKind int

const (
	// EventMessageCreated notifies room members about a new message.
	EventMessageCreated EventKind = iota
	// EventReactionsUpdated carries the new reaction summary of a message.
	EventReactionsUpdated
	// EventUserJoinedChannel notifies room members that a user joined.
	EventUserJoinedChannel
	// EventUserLeftChannel notifies room members that a user left.
	EventUserLeftChannel
	// EventMessagesMarkedRead is sent only to the acting user's other sessions.
	EventMessagesMarkedRead
)

var eventNames = map[EventKind]string{
	EventMessageCreated:     "message_created",
	EventReactionsUpdated:   "reactions_updated",
	EventUserJoinedChannel:  "user_joined_channel",
	EventUserLeftChannel:    "user_left_channel",
	EventMessagesMarkedRead: "messages_marked_read",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	name, ok := eventNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a kind from its name.
func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is sent to sessions to describe what happened in the system.
type Event struct {
	// ID is unique per emitted event; clients use it to drop duplicates.
	ID        string                  `json:"id"`
	Kind      EventKind               `json:"kind"`
	Channel   store.ChannelID         `json:"channel"`
	User      store.UserID            `json:"user,omitempty"`
	Message   *store.Message          `json:"message,omitempty"`
	MessageID store.MessageID         `json:"message_id,omitempty"`
	Reactions []store.ReactionSummary `json:"reactions,omitempty"`
}
