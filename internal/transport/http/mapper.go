package http

import (
	"encoding/json"

	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/proto"
	"github.com/vovakirdan/agora-server/internal/store"
)

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}

// inboundToCommand decodes a client frame. Malformed payloads are reported as a
// protocol error so the connection stays open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave, proto.InboundTypeMarkRead:
		var data proto.ChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest("invalid payload")
		}
		if data.ChannelID <= 0 {
			return nil, badRequest("channel_id is required")
		}
		kind := core.CommandJoinChannel
		switch inbound.Type {
		case proto.InboundTypeLeave:
			kind = core.CommandLeaveChannel
		case proto.InboundTypeMarkRead:
			kind = core.CommandMarkRead
		}
		return &core.Command{Kind: kind, Channel: store.ChannelID(data.ChannelID)}, nil
	case proto.InboundTypeSend:
		var data proto.SendData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest("invalid payload")
		}
		if data.ChannelID <= 0 {
			return nil, badRequest("channel_id is required")
		}
		return &core.Command{
			Kind:          core.CommandSendMessage,
			Channel:       store.ChannelID(data.ChannelID),
			Content:       data.Content,
			AttachmentIDs: data.AttachmentIDs,
		}, nil
	case proto.InboundTypeReact, proto.InboundTypeUnreact:
		var data proto.ReactData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest("invalid payload")
		}
		if data.MessageID == "" {
			return nil, badRequest("message_id is required")
		}
		kind := core.CommandAddReaction
		if inbound.Type == proto.InboundTypeUnreact {
			kind = core.CommandRemoveReaction
		}
		return &core.Command{
			Kind:      kind,
			MessageID: store.MessageID(data.MessageID),
			Emoji:     data.Emoji,
		}, nil
	case proto.InboundTypeOpenDirect:
		var data proto.OpenDirectData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest("invalid payload")
		}
		return &core.Command{Kind: core.CommandOpenDirect, Peer: store.UserID(data.UserID)}, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}
	}
}

func ackFromResult(requestID string, cmd *core.Command, res *core.Result) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeAck, ID: requestID}
	switch cmd.Kind {
	case core.CommandSendMessage:
		out.Data = proto.AckSend{Message: messageToProto(res.Message)}
	case core.CommandAddReaction, core.CommandRemoveReaction:
		out.Data = proto.AckReactions{
			MessageID: string(cmd.MessageID),
			Reactions: reactionsToProto(res.Reactions),
		}
	case core.CommandMarkRead:
		out.Data = proto.AckMarkRead{ChannelID: int64(res.Channel), Marked: res.Marked}
	default:
		out.Data = proto.AckChannel{ChannelID: int64(res.Channel)}
	}
	return out
}

func errorFrame(requestID string, err error) proto.Outbound {
	ce := core.AsCoreError(err)
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		ID:    requestID,
		Error: &proto.Error{Code: ce.Code, Msg: ce.Message},
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{
		Type:    proto.OutboundTypeEvent,
		Event:   event.Kind.String(),
		EventID: event.ID,
	}
	switch event.Kind {
	case core.EventMessageCreated:
		out.Data = proto.EventMessageCreated{Message: messageToProto(event.Message)}
	case core.EventReactionsUpdated:
		out.Data = proto.EventReactionsUpdated{
			ChannelID: int64(event.Channel),
			MessageID: string(event.MessageID),
			Reactions: reactionsToProto(event.Reactions),
		}
	case core.EventUserJoinedChannel, core.EventUserLeftChannel:
		out.Data = proto.EventMembership{ChannelID: int64(event.Channel), UserID: int64(event.User)}
	case core.EventMessagesMarkedRead:
		out.Data = proto.EventMarkedRead{ChannelID: int64(event.Channel), UserID: int64(event.User)}
	}
	return out
}

func messageToProto(msg *store.Message) proto.Message {
	if msg == nil {
		return proto.Message{}
	}
	return proto.Message{
		ID:            string(msg.ID),
		ChannelID:     int64(msg.ChannelID),
		SenderID:      int64(msg.SenderID),
		Content:       msg.Content,
		SentAt:        msg.SentAt,
		Read:          msg.Read,
		AttachmentIDs: msg.AttachmentIDs,
		Reactions:     reactionsToProto(msg.Reactions),
	}
}

func messagesToProto(msgs []*store.Message) []proto.Message {
	out := make([]proto.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageToProto(msg))
	}
	return out
}

func reactionsToProto(summary []store.ReactionSummary) []proto.ReactionSummary {
	out := make([]proto.ReactionSummary, 0, len(summary))
	for _, s := range summary {
		users := make([]int64, 0, len(s.Users))
		for _, u := range s.Users {
			users = append(users, int64(u))
		}
		out = append(out, proto.ReactionSummary{Emoji: s.Emoji, Count: s.Count, Users: users})
	}
	return out
}

func channelToProto(ch *store.Channel) proto.Channel {
	out := proto.Channel{
		ID:          int64(ch.ID),
		Kind:        string(ch.Kind),
		Name:        ch.Name,
		Description: ch.Description,
		Private:     ch.Private,
	}
	if ch.CommunityID != nil {
		id := int64(*ch.CommunityID)
		out.CommunityID = &id
	}
	if ch.IsDirect() {
		for _, m := range ch.Members {
			out.Members = append(out.Members, int64(m))
		}
	}
	return out
}
