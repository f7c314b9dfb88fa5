package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/config"
	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/proto"
	"github.com/vovakirdan/agora-server/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to a core.Session.
type WSHandler struct {
	hub        *core.Hub
	log        *zerolog.Logger
	sendBuffer int
	perSecond  float64
	burst      int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:        hub,
		log:        logger,
		sendBuffer: cfg.SendBuffer,
		perSecond:  cfg.CommandsPerSecond,
		burst:      cfg.CommandsBurst,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	token := credentials(r)
	if token == "" {
		stdhttp.Error(w, "missing credentials", stdhttp.StatusUnauthorized)
		return
	}

	client := core.NewClient(core.SessionID(utils.NewID()), h.sendBuffer)
	session, err := h.hub.Open(ctx, client.ID, token, client)
	if err != nil {
		client.Close()
		ce := core.AsCoreError(err)
		h.log.Debug().Err(err).Str("code", ce.Code).Msg("ws session rejected")
		stdhttp.Error(w, ce.Message, statusFor(err))
		return
	}
	defer client.Close()
	defer session.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	log := h.log.With().
		Str("session_id", string(session.ID)).
		Int64("user_id", int64(session.UserID)).
		Logger()
	log.Info().Int("channels", len(session.Channels())).Msg("ws session opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session, &log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &log)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	if r.Context().Err() != nil {
		status = websocket.StatusGoingAway
		reason = "server shutting down"
	}

	log.Info().Msg("ws session closed")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, log *zerolog.Logger) error {
	limiter := newRateLimiter(h.perSecond, h.burst)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			log.Debug().Err(err).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			if err := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				ID:    inbound.ID,
				Error: &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many requests"},
			}); err != nil {
				return err
			}
			continue
		}

		if inbound.Type == proto.InboundTypeHello {
			if err := wsjson.Write(ctx, conn, helloReply(inbound, session)); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			if err := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				ID:    inbound.ID,
				Error: protoErr,
			}); err != nil {
				return err
			}
			continue
		}

		res, err := session.Handle(ctx, cmd)
		if err != nil {
			if errors.Is(err, core.ErrSessionClosed) {
				return context.Canceled
			}
			log.Debug().Err(err).Str("command", cmd.Kind.String()).Msg("command failed")
			if writeErr := wsjson.Write(ctx, conn, errorFrame(inbound.ID, err)); writeErr != nil {
				return writeErr
			}
			continue
		}
		if err := wsjson.Write(ctx, conn, ackFromResult(inbound.ID, cmd, res)); err != nil {
			return err
		}
	}
}

func helloReply(inbound proto.Inbound, session *core.Session) proto.Outbound {
	var hello proto.HelloData
	if len(inbound.Data) > 0 {
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return proto.Outbound{Type: proto.OutboundTypeError, ID: inbound.ID, Error: badRequest("invalid payload")}
		}
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			ID:    inbound.ID,
			Error: &proto.Error{Code: core.ErrCodeUnsupportedVer, Msg: "unsupported protocol version"},
		}
	}
	return proto.Outbound{
		Type: proto.OutboundTypeAck,
		ID:   inbound.ID,
		Data: proto.AckHello{Protocol: proto.ProtocolVersion, UserID: int64(session.UserID)},
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	for {
		select {
		case event, ok := <-client.Events():
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				log.Error().Err(err).Str("event", event.Kind.String()).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
