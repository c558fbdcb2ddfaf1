package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/presencebridge/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_watch: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/presence", "presence stream address")
	token := flag.String("token", os.Getenv("BRIDGE_TOKEN"), "admin token (see `bridge token`)")
	server := flag.String("server", "", "only show changes for this server key")
	flag.Parse()

	if *token == "" {
		return errors.New("token is required")
	}
	u, err := url.Parse(*addr)
	if err != nil {
		return fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	q.Set("token", *token)
	u.RawQuery = q.Encode()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Watching %s. Ctrl+C to exit.\n", *addr)
	return readLoop(ctx, conn, *server)
}

func readLoop(ctx context.Context, conn *websocket.Conn, server string) error {
	for {
		var frame proto.Inbound
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if frame.Event != "presence" {
			fmt.Printf("event=%s data=%s\n", frame.Event, frame.Data)
			continue
		}
		var change proto.PresenceChange
		if err := json.Unmarshal(frame.Data, &change); err != nil {
			log.Printf("unmarshal presence: %v", err)
			continue
		}
		if server != "" && change.Server != server {
			continue
		}

		name := change.Username
		if change.Nickname != "" {
			name = change.Nickname
		}
		ts := time.Unix(change.TS, 0).Format(time.TimeOnly)
		fmt.Printf("%s [%s] %s %s (id %d, channel %d)\n", ts, change.Server, name, change.Kind, change.UserID, change.ChannelID)
	}
}
