package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/agora-server/internal/proto"
)

type outbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("AGORA_TOKEN"), "bearer token")
	channel := flag.Int64("channel", 1, "channel to chat in")
	flag.Parse()

	if *token == "" {
		return errors.New("token is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s in channel %d\n", *addr, *channel)
	fmt.Println("Type messages and press Enter to send. Commands: /react <message-id> <emoji>, /read, /dm <user-id>, /join <channel-id>. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *channel)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if out.Type == proto.OutboundTypeError && out.Error != nil {
			fmt.Printf("! %s: %s\n", out.Error.Code, out.Error.Msg)
			continue
		}
		if out.Type == proto.OutboundTypeAck {
			continue
		}

		switch out.Event {
		case "message_created":
			var evt proto.EventMessageCreated
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			m := evt.Message
			fmt.Printf("[%d] user %d: %s  (%s)\n", m.ChannelID, m.SenderID, m.Content, m.ID)
		case "reactions_updated":
			var evt proto.EventReactionsUpdated
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal reactions: %v", err)
				continue
			}
			parts := make([]string, 0, len(evt.Reactions))
			for _, r := range evt.Reactions {
				parts = append(parts, fmt.Sprintf("%s×%d", r.Emoji, r.Count))
			}
			fmt.Printf("[%d] reactions on %s: %s\n", evt.ChannelID, evt.MessageID, strings.Join(parts, " "))
		case "user_joined_channel", "user_left_channel":
			var evt proto.EventMembership
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal %s: %v", out.Event, err)
				continue
			}
			verb := "joined"
			if out.Event == "user_left_channel" {
				verb = "left"
			}
			fmt.Printf("[%d] user %d %s\n", evt.ChannelID, evt.UserID, verb)
		default:
			fmt.Printf("event=%s data=%s\n", out.Event, out.Data)
		}
	}
}

// parseLine turns a line of input into a frame for the given channel.
func parseLine(line string, channel int64) (string, any, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}
	switch fields[0] {
	case "/react":
		if len(fields) != 3 {
			return "", nil, false
		}
		return proto.InboundTypeReact, proto.ReactData{MessageID: fields[1], Emoji: fields[2]}, true
	case "/read":
		return proto.InboundTypeMarkRead, proto.ChannelData{ChannelID: channel}, true
	case "/dm", "/join":
		if len(fields) != 2 {
			return "", nil, false
		}
		var id int64
		if _, err := fmt.Sscan(fields[1], &id); err != nil {
			return "", nil, false
		}
		if fields[0] == "/dm" {
			return proto.InboundTypeOpenDirect, proto.OpenDirectData{UserID: id}, true
		}
		return proto.InboundTypeJoin, proto.ChannelData{ChannelID: id}, true
	default:
		return proto.InboundTypeSend, proto.SendData{ChannelID: channel, Content: strings.TrimSpace(line)}, true
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, channel int64) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			typ, data, ok := parseLine(line, channel)
			if !ok {
				continue
			}

			payload, err := json.Marshal(data)
			if err != nil {
				log.Printf("marshal %s: %v", typ, err)
				return
			}
			seq++
			if err := wsjson.Write(ctx, conn, proto.Inbound{ID: fmt.Sprintf("c%d", seq), Type: typ, Data: payload}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
