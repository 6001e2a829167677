package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/pulsechat/internal/client/api"
	"github.com/vovakirdan/pulsechat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:3000", "server base URL")
	addr := flag.String("addr", "ws://localhost:3000/ws", "WebSocket address")
	title := flag.String("title", "smoke test", "title of the room to create")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := api.New(*server, nil)
	user, err := client.CreateAnonymousUser(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	room, err := client.CreateRoom(ctx, user.UserID, *title, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Printf("User %s (%s), room %s\n", user.Username, user.UserID, room.RoomID)

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(eventType string, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", eventType, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: eventType, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", eventType, err)
		}
		return nil
	}

	if err := send(proto.EventJoinRoom, proto.JoinRoomData{RoomID: room.RoomID, UserID: user.UserID}); err != nil {
		return err
	}
	if err := send(proto.EventSendMessage, proto.SendMessageData{RoomID: room.RoomID, UserID: user.UserID, Content: *text}); err != nil {
		return err
	}

	for {
		var frame proto.Inbound
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received: type=%s data=%s\n", frame.Type, string(frame.Data))

		switch frame.Type {
		case proto.EventNewMessage:
			var evt proto.NewMessage
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("Message: id=%s sender=%s text=%q at=%s\n", evt.MessageID, evt.Sender.Username, evt.Content, evt.CreatedAt.Format(time.RFC3339))
			return nil
		case proto.EventError:
			var evt proto.Error
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				return fmt.Errorf("unmarshal error: %w", err)
			}
			return fmt.Errorf("server error %s: %s", evt.Code, evt.Message)
		}
	}
}
