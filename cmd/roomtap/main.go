// Command roomtap prints every room event published by relays on NATS.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"

	"github.com/campus/chat-relay/internal/messaging"
	"github.com/campus/chat-relay/internal/protocol"
)

var eventStyles = map[string]color.Style{
	protocol.TypeNewMessage: color.New(color.FgWhite),
	protocol.TypeUserJoined: color.New(color.FgGreen),
	protocol.TypeUserLeft:   color.New(color.FgYellow),
}

var fallbackStyle = color.New(color.FgGray)

// eventFields is the union of the payload fields the tap knows how to show.
type eventFields struct {
	Username    string   `json:"username"`
	Message     string   `json:"message"`
	OnlineUsers []string `json:"online_users"`
	Command     *struct {
		Type string `json:"type"`
	} `json:"command"`
}

// formatEvent renders one event as a single console line.
func formatEvent(ev messaging.RoomEvent) string {
	var f eventFields
	_ = json.Unmarshal(ev.Data, &f)

	var body string
	switch ev.Type {
	case protocol.TypeNewMessage:
		body = fmt.Sprintf("%s: %s", f.Username, f.Message)
		if f.Command != nil {
			body += fmt.Sprintf("  [@%s]", f.Command.Type)
		}
	case protocol.TypeUserJoined:
		body = fmt.Sprintf("+ %s (%d online)", f.Username, len(f.OnlineUsers))
	case protocol.TypeUserLeft:
		body = fmt.Sprintf("- %s (%d online)", f.Username, len(f.OnlineUsers))
	default:
		body = string(ev.Data)
	}

	style, ok := eventStyles[ev.Type]
	if !ok {
		style = fallbackStyle
	}
	header := color.New(color.FgCyan, color.OpBold).Sprintf("[%s] %s@%s", ev.At.Format(protocol.TimestampLayout), ev.Room, ev.Server)
	return header + " " + style.Sprint(body)
}

func main() {
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "chat-relay-roomtap"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	if err := natsClient.SubscribeRoomEvents(func(ev messaging.RoomEvent) {
		fmt.Println(formatEvent(ev))
	}); err != nil {
		log.Fatalf("failed to subscribe to room events: %v", err)
	}

	log.Printf("roomtap listening on %s", messaging.SubjectRoomAll)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down roomtap...", sig)

	_ = natsClient.UnsubscribeRoomEvents()
	natsClient.Close()
}
