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

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("WIRECHAT_TOKEN"), "access token (see `wirechat-relay token`)")
	cookie := flag.String("cookie", "accessToken", "name of the access token cookie")
	room := flag.String("room", "", "conversation to join")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to listen for events")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("missing -token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{*cookie + "=" + *token}},
	})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if *room != "" {
		data, err := json.Marshal(proto.RoomData{Room: *room})
		if err != nil {
			return fmt.Errorf("marshal join: %w", err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeJoinRoom, ID: "smoke-join", Data: data}); err != nil {
			return fmt.Errorf("send join: %w", err)
		}
	}

	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		raw, err := json.Marshal(outbound.Data)
		if err != nil {
			return fmt.Errorf("marshal outbound data: %w", err)
		}

		switch outbound.Type {
		case proto.OutboundTypeAck:
			ok := outbound.OK != nil && *outbound.OK
			fmt.Printf("ack id=%s ok=%t", outbound.ID, ok)
			if outbound.Error != nil {
				fmt.Printf(" code=%s msg=%s", outbound.Error.Code, outbound.Error.Msg)
			}
			fmt.Println()
		case proto.OutboundTypeError:
			if outbound.Error != nil {
				fmt.Printf("error code=%s msg=%s\n", outbound.Error.Code, outbound.Error.Msg)
			}
		default:
			fmt.Printf("event=%s data=%s\n", outbound.Event, string(raw))
		}
	}
}
