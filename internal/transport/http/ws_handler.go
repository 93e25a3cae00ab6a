package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to the core hub.
type WSHandler struct {
	hub *core.Hub
	cfg *config.Config
	log *zerolog.Logger

	// conns counts running handlers; hijacked connections are invisible to
	// http.Server.Shutdown.
	conns sync.WaitGroup
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	h.conns.Add(1)
	defer h.conns.Done()

	// Authenticate before the upgrade so rejected peers get a plain 401.
	client, err := h.hub.Admit(r.Header)
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws connection rejected")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		h.log.Error().Err(err).Str("user_id", client.UserID).Msg("ws accept error")
		h.hub.Close(client)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	if err := h.hub.Activate(client); err != nil {
		h.log.Error().Err(err).Str("conn_id", client.ID).Msg("activate connection")
		h.hub.Close(client)
		return
	}
	defer h.hub.Close(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var joins sync.WaitGroup
	defer joins.Wait()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &joins)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
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
			reason = "internal error"
			h.log.Warn().Err(err).Str("conn_id", client.ID).Str("user_id", client.UserID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn, joins *sync.WaitGroup) error {
	limiter := newRateLimiter(h.cfg.InboundRateLimit)
	for {
		typ, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		malformed := typ != websocket.MessageText || json.Unmarshal(payload, &inbound) != nil

		if !limiter.allow() {
			limited := &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"}
			// A join requester waits for its ack, so it gets one even when throttled.
			if !malformed && inbound.Type == proto.InboundTypeJoinRoom {
				err = wsjson.Write(ctx, conn, proto.Ack(inbound.ID, limited))
			} else {
				err = writeError(ctx, conn, limited)
			}
			if err != nil {
				return err
			}
			continue
		}

		if malformed {
			if err := writeError(ctx, conn, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "malformed message"}); err != nil {
				return err
			}
			continue
		}

		switch inbound.Type {
		case proto.InboundTypeJoinRoom:
			room, protoErr := inboundRoom(inbound)
			if protoErr != nil {
				if err := wsjson.Write(ctx, conn, proto.Ack(inbound.ID, protoErr)); err != nil {
					return err
				}
				continue
			}
			joins.Add(1)
			go func() {
				defer joins.Done()
				h.join(ctx, conn, client, inbound.ID, room)
			}()
		case proto.InboundTypeLeaveRoom:
			room, protoErr := inboundRoom(inbound)
			if protoErr != nil {
				if err := writeError(ctx, conn, protoErr); err != nil {
					return err
				}
				continue
			}
			_ = h.hub.Leave(client, room) //nolint:errcheck // only fails once the connection is closing
		default:
			if err := writeError(ctx, conn, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}); err != nil {
				return err
			}
		}
	}
}

// join runs the participant check off the read loop and acks the requester.
func (h *WSHandler) join(ctx context.Context, conn *websocket.Conn, client *core.Conn, id, room string) {
	joinCtx, cancel := context.WithTimeout(ctx, h.cfg.JoinTimeout)
	defer cancel()

	err := h.hub.Join(joinCtx, client, room)
	if err := wsjson.Write(ctx, conn, proto.Ack(id, protoError(err))); err != nil {
		h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("write join ack")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	events := client.Events()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wait blocks until every websocket handler has returned or ctx is done.
func (h *WSHandler) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, protoErr *proto.Error) error {
	return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr})
}
