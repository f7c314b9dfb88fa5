package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/agora-server/internal/proto"
)

// outbound mirrors proto.Outbound with the payload kept raw.
type outbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	EventID string          `json:"event_id"`
	Data    json.RawMessage `json:"data"`
	Error   *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("AGORA_TOKEN"), "bearer token, e.g. from agora-server token")
	channel := flag.Int64("channel", 1, "channel id to post to")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(id, typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{ID: id, Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := mustSend("hello", proto.InboundTypeHello, proto.HelloData{Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := mustSend("send", proto.InboundTypeSend, proto.SendData{ChannelID: *channel, Content: *text}); err != nil {
		return err
	}

	gotAck, gotEvent := false, false
	for !gotAck || !gotEvent {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s", out.Type)
		if out.ID != "" {
			fmt.Printf(" id=%s", out.ID)
		}
		if out.Event != "" {
			fmt.Printf(" event=%s event_id=%s", out.Event, out.EventID)
		}
		fmt.Println()

		if out.Error != nil {
			return fmt.Errorf("%s: %s", out.Error.Code, out.Error.Msg)
		}

		switch {
		case out.Type == proto.OutboundTypeAck && out.ID == "send":
			var ack proto.AckSend
			if err := json.Unmarshal(out.Data, &ack); err != nil {
				return fmt.Errorf("unmarshal ack: %w", err)
			}
			fmt.Printf("Stored message %s at %s\n", ack.Message.ID, ack.Message.SentAt.Format(time.RFC3339))
			gotAck = true
		case out.Event == "message_created":
			var evt proto.EventMessageCreated
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				fmt.Printf("Raw data: %s\n", string(out.Data))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("Message: channel=%d sender=%d content=%q\n", evt.Message.ChannelID, evt.Message.SenderID, evt.Message.Content)
			gotEvent = true
		}
	}
	return nil
}
