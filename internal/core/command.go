package core

import "github.com/vovakirdan/agora-server/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinChannel subscribes the session to a channel room.
	CommandJoinChannel CommandKind = iota
	// CommandLeaveChannel unsubscribes the session from a channel room.
	CommandLeaveChannel
	// CommandSendMessage persists a message and fans it out to the room.
	CommandSendMessage
	// CommandAddReaction adds the user's emoji reaction to a message.
	CommandAddReaction
	// CommandRemoveReaction removes the user's emoji reaction from a message.
	CommandRemoveReaction
	// CommandMarkRead marks a channel's messages as read for the user.
	CommandMarkRead
	// CommandOpenDirect gets or lazily creates the direct channel with another user.
	CommandOpenDirect
)

var commandNames = [...]string{
	CommandJoinChannel:    "join",
	CommandLeaveChannel:   "leave",
	CommandSendMessage:    "send",
	CommandAddReaction:    "react",
	CommandRemoveReaction: "unreact",
	CommandMarkRead:       "mark_read",
	CommandOpenDirect:     "open_direct",
}

func (k CommandKind) String() string {
	if int(k) >= 0 && int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// Command represents an action requested by a client.
type Command struct {
	Kind          CommandKind
	Channel       store.ChannelID
	MessageID     store.MessageID
	Content       string
	AttachmentIDs []string
	Emoji         string
	Peer          store.UserID
}

// Result is the synchronous outcome of a command.
type Result struct {
	Channel   store.ChannelID
	Message   *store.Message
	Reactions []store.ReactionSummary
	Marked    int64
}
