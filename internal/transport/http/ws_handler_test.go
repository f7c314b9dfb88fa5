package http

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/agora-server/internal/config"
	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.get(t, "/health", "")
	if status != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected health response: %d %q", status, body)
	}
}

func TestWebSocketRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": int64(env.alice),
		"exp":     time.Now().Add(time.Minute).Unix(),
	})
	forgedToken, err := forged.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	cases := map[string]string{
		"missing": "",
		"garbage": "?token=not-a-jwt",
		"forged":  "?token=" + forgedToken,
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := websocket.Dial(ctx, wsURL+query, nil)
			if err == nil {
				conn.Close(websocket.StatusNormalClosure, "done")
				t.Fatalf("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %+v", resp)
			}
		})
	}
}

func TestWebSocketTokenQueryParameter(t *testing.T) {
	env := newTestEnv(t, nil)
	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws?token=" + env.token(t, env.alice)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	send(ctx, t, conn, "h1", proto.InboundTypeHello, proto.HelloData{Protocol: proto.ProtocolVersion})
	ack := readUntil(ctx, t, conn, reply("h1"))
	if ack.Type != proto.OutboundTypeAck {
		t.Fatalf("expected ack, got %+v", ack)
	}
	hello := decode[proto.AckHello](t, ack.Data)
	if hello.UserID != int64(env.alice) || hello.Protocol != proto.ProtocolVersion {
		t.Fatalf("unexpected hello ack: %+v", hello)
	}
}

func TestProtocolVersionMismatch(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, env.alice)
	send(ctx, t, conn, "h1", proto.InboundTypeHello, proto.HelloData{Protocol: proto.ProtocolVersion + 1})

	outbound := readUntil(ctx, t, conn, reply("h1"))
	if outbound.Type != proto.OutboundTypeError || outbound.Error == nil || outbound.Error.Code != core.ErrCodeUnsupportedVer {
		t.Fatalf("expected unsupported_version error, got %+v", outbound)
	}
}

func TestWebSocketSendFanOut(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(ctx, t, env.alice)
	connB := env.dial(ctx, t, env.bob)

	send(ctx, t, connA, "s1", proto.InboundTypeSend, proto.SendData{
		ChannelID:     int64(env.general),
		Content:       "hi there",
		AttachmentIDs: []string{"file-1"},
	})

	ack := readUntil(ctx, t, connA, reply("s1"))
	if ack.Type != proto.OutboundTypeAck {
		t.Fatalf("expected ack, got %+v", ack)
	}
	sent := decode[proto.AckSend](t, ack.Data).Message
	if sent.ID == "" || sent.SenderID != int64(env.alice) {
		t.Fatalf("unexpected ack payload: %+v", sent)
	}

	ev := readUntil(ctx, t, connB, eventNamed("message_created"))
	if ev.EventID == "" {
		t.Fatalf("event without event_id: %+v", ev)
	}
	got := decode[proto.EventMessageCreated](t, ev.Data).Message
	if got.ID != sent.ID || got.Content != "hi there" || got.ChannelID != int64(env.general) {
		t.Fatalf("unexpected event payload: %+v", got)
	}
	if len(got.AttachmentIDs) != 1 || got.AttachmentIDs[0] != "file-1" {
		t.Fatalf("unexpected attachments: %v", got.AttachmentIDs)
	}
}

func TestWebSocketAccessDenied(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, env.carol)

	send(ctx, t, conn, "j1", proto.InboundTypeJoin, proto.ChannelData{ChannelID: int64(env.general)})
	if f := readUntil(ctx, t, conn, reply("j1")); f.Error == nil || f.Error.Code != core.ErrCodeAccessDenied {
		t.Fatalf("expected access_denied on join, got %+v", f)
	}

	send(ctx, t, conn, "s1", proto.InboundTypeSend, proto.SendData{ChannelID: int64(env.general), Content: "let me in"})
	if f := readUntil(ctx, t, conn, reply("s1")); f.Error == nil || f.Error.Code != core.ErrCodeAccessDenied {
		t.Fatalf("expected access_denied on send, got %+v", f)
	}

	send(ctx, t, conn, "s2", proto.InboundTypeSend, proto.SendData{ChannelID: 9999, Content: "anyone?"})
	if f := readUntil(ctx, t, conn, reply("s2")); f.Error == nil || f.Error.Code != core.ErrCodeNotFound {
		t.Fatalf("expected not_found for unknown channel, got %+v", f)
	}
}

func TestWebSocketReactionsAndMarkRead(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice1 := env.dial(ctx, t, env.alice)
	alice2 := env.dial(ctx, t, env.alice)
	bob := env.dial(ctx, t, env.bob)

	send(ctx, t, bob, "s1", proto.InboundTypeSend, proto.SendData{ChannelID: int64(env.general), Content: "lunch?"})
	msg := decode[proto.AckSend](t, readUntil(ctx, t, bob, reply("s1")).Data).Message

	send(ctx, t, alice1, "r1", proto.InboundTypeReact, proto.ReactData{MessageID: msg.ID, Emoji: "👍"})
	ack := decode[proto.AckReactions](t, readUntil(ctx, t, alice1, reply("r1")).Data)
	if len(ack.Reactions) != 1 || ack.Reactions[0].Count != 1 {
		t.Fatalf("unexpected reaction ack: %+v", ack)
	}

	updated := decode[proto.EventReactionsUpdated](t, readUntil(ctx, t, bob, eventNamed("reactions_updated")).Data)
	if updated.MessageID != msg.ID || len(updated.Reactions) != 1 || updated.Reactions[0].Users[0] != int64(env.alice) {
		t.Fatalf("unexpected reactions_updated: %+v", updated)
	}

	send(ctx, t, alice1, "m1", proto.InboundTypeMarkRead, proto.ChannelData{ChannelID: int64(env.general)})
	marked := decode[proto.AckMarkRead](t, readUntil(ctx, t, alice1, reply("m1")).Data)
	if marked.Marked != 1 {
		t.Fatalf("expected one message marked, got %+v", marked)
	}

	read := decode[proto.EventMarkedRead](t, readUntil(ctx, t, alice2, eventNamed("messages_marked_read")).Data)
	if read.ChannelID != int64(env.general) || read.UserID != int64(env.alice) {
		t.Fatalf("unexpected messages_marked_read: %+v", read)
	}

	send(ctx, t, alice1, "u1", proto.InboundTypeUnreact, proto.ReactData{MessageID: msg.ID, Emoji: "👍"})
	ack = decode[proto.AckReactions](t, readUntil(ctx, t, alice1, reply("u1")).Data)
	if len(ack.Reactions) != 0 {
		t.Fatalf("expected no reactions after unreact, got %+v", ack.Reactions)
	}
}

func TestWebSocketJoinLeaveEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.dial(ctx, t, env.alice)
	bob := env.dial(ctx, t, env.bob)

	send(ctx, t, bob, "l1", proto.InboundTypeLeave, proto.ChannelData{ChannelID: int64(env.general)})
	readUntil(ctx, t, bob, reply("l1"))
	left := decode[proto.EventMembership](t, readUntil(ctx, t, alice, eventNamed("user_left_channel")).Data)
	if left.UserID != int64(env.bob) {
		t.Fatalf("unexpected user_left_channel: %+v", left)
	}

	send(ctx, t, bob, "j1", proto.InboundTypeJoin, proto.ChannelData{ChannelID: int64(env.general)})
	readUntil(ctx, t, bob, reply("j1"))
	joined := decode[proto.EventMembership](t, readUntil(ctx, t, alice, eventNamed("user_joined_channel")).Data)
	if joined.UserID != int64(env.bob) || joined.ChannelID != int64(env.general) {
		t.Fatalf("unexpected user_joined_channel: %+v", joined)
	}
}

func TestWebSocketOpenDirect(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.dial(ctx, t, env.alice)
	carol := env.dial(ctx, t, env.carol)

	send(ctx, t, alice, "d0", proto.InboundTypeOpenDirect, proto.OpenDirectData{UserID: int64(env.alice)})
	if f := readUntil(ctx, t, alice, reply("d0")); f.Error == nil || f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for self direct, got %+v", f)
	}

	send(ctx, t, alice, "d1", proto.InboundTypeOpenDirect, proto.OpenDirectData{UserID: int64(env.carol)})
	direct := decode[proto.AckChannel](t, readUntil(ctx, t, alice, reply("d1")).Data)
	if direct.ChannelID == 0 {
		t.Fatalf("expected direct channel id")
	}

	send(ctx, t, alice, "s1", proto.InboundTypeSend, proto.SendData{ChannelID: direct.ChannelID, Content: "psst"})
	readUntil(ctx, t, alice, reply("s1"))

	got := decode[proto.EventMessageCreated](t, readUntil(ctx, t, carol, eventNamed("message_created")).Data).Message
	if got.ChannelID != direct.ChannelID || got.Content != "psst" {
		t.Fatalf("unexpected direct message: %+v", got)
	}
}

func TestWebSocketMalformedFrames(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, env.alice)

	send(ctx, t, conn, "x1", "dance", struct{}{})
	if f := readUntil(ctx, t, conn, reply("x1")); f.Error == nil || f.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message, got %+v", f)
	}

	send(ctx, t, conn, "x2", proto.InboundTypeJoin, proto.ChannelData{})
	if f := readUntil(ctx, t, conn, reply("x2")); f.Error == nil || f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", f)
	}

	send(ctx, t, conn, "x3", proto.InboundTypeSend, proto.SendData{ChannelID: int64(env.general)})
	if f := readUntil(ctx, t, conn, reply("x3")); f.Error == nil || f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for empty message, got %+v", f)
	}
}

func TestWebSocketRateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.CommandsPerSecond = 0.001
		cfg.CommandsBurst = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(ctx, t, env.alice)

	send(ctx, t, conn, "h1", proto.InboundTypeHello, proto.HelloData{})
	if f := readUntil(ctx, t, conn, reply("h1")); f.Type != proto.OutboundTypeAck {
		t.Fatalf("expected first frame to pass, got %+v", f)
	}
	send(ctx, t, conn, "h2", proto.InboundTypeHello, proto.HelloData{})
	if f := readUntil(ctx, t, conn, reply("h2")); f.Error == nil || f.Error.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", f)
	}
}
