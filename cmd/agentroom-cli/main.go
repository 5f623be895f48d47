// Command agentroom-cli is an interactive client for a room coordinator:
// it joins a room over WebSocket, prints incoming frames, and turns REPL
// input into protocol frames.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/peterh/liner"
)

var (
	serverURL = flag.String("server", "ws://localhost:8080", "Coordinator base URL")
	roomID    = flag.String("room", "default", "Room to join")
	agentID   = flag.String("agent-id", "", "Agent id (assigned by the server when empty)")
	agentName = flag.String("name", "", "Display name")
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func main() {
	flag.Parse()

	conn, err := dial()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go readFrames(conn, done)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("Joined room %q on %s. Type /help for commands, /quit to leave.\n", *roomID, *serverURL)

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == "/quit" {
			break
		}

		msg, err := parseInput(input)
		if err != nil {
			fmt.Println(err)
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("Send failed: %v", err)
			break
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}

func dial() (*websocket.Conn, error) {
	base, err := url.Parse(*serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	base.Path = "/ws"
	q := base.Query()
	q.Set("room", *roomID)
	if *agentID != "" {
		q.Set("agentId", *agentID)
	}
	if *agentName != "" {
		q.Set("agentName", *agentName)
	}
	base.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(base.String(), nil)
	return conn, err
}

// parseInput maps one REPL line to a protocol frame. Slash commands cover
// locks, threads, and queries; anything else is chat.
func parseInput(input string) (map[string]any, error) {
	if !strings.HasPrefix(input, "/") {
		return map[string]any{"type": "chat", "content": input}, nil
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case "/lock":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: /lock <filePath> [read|write|create]")
		}
		msg := map[string]any{"type": "file_lock", "filePath": fields[1]}
		if len(fields) > 2 {
			msg["lockType"] = fields[2]
		}
		return msg, nil

	case "/unlock":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: /unlock <filePath>")
		}
		return map[string]any{"type": "file_unlock", "filePath": fields[1]}, nil

	case "/thread":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: /thread <subject>")
		}
		subject := strings.TrimSpace(strings.TrimPrefix(input, "/thread"))
		return map[string]any{"type": "create_thread", "subject": subject}, nil

	case "/reply":
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: /reply <threadId> <message>")
		}
		content := strings.TrimSpace(strings.TrimPrefix(input, "/reply "+fields[1]))
		return map[string]any{
			"type": "thread_reply", "threadId": fields[1], "content": content,
		}, nil

	case "/query":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: /query <history|locks|agents|file_history|rooms> [key=value ...]")
		}
		filters := map[string]any{}
		for _, kv := range fields[2:] {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("bad filter %q, want key=value", kv)
			}
			filters[key] = value
		}
		return map[string]any{
			"type":  "query",
			"query": map[string]any{"queryType": fields[1], "filters": filters},
		}, nil

	case "/help":
		return map[string]any{"type": "help"}, nil

	case "/ping":
		return map[string]any{"type": "ping"}, nil

	default:
		return nil, fmt.Errorf("unknown command %s", fields[0])
	}
}

func readFrames(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Connection lost: %v", err)
			}
			return
		}
		printFrame(f)
	}
}

func printFrame(f frame) {
	var data map[string]any
	_ = json.Unmarshal(f.Data, &data)

	switch f.Type {
	case "welcome":
		fmt.Fprintf(os.Stdout, "\r* welcome to %v (you are %v)\n", data["name"], data["agentName"])
	case "chat":
		fmt.Fprintf(os.Stdout, "\r<%v> %v\n", data["agentName"], data["content"])
	case "thread_reply":
		fmt.Fprintf(os.Stdout, "\r<%v> [thread %v] %v\n", data["agentName"], data["threadId"], data["content"])
	case "agent_joined":
		fmt.Fprintf(os.Stdout, "\r* %v joined\n", data["agentName"])
	case "agent_left":
		fmt.Fprintf(os.Stdout, "\r* %v left\n", data["agentName"])
	case "file_locked":
		fmt.Fprintf(os.Stdout, "\r* %v locked %v (%v)\n", data["agentName"], data["filePath"], data["lockType"])
	case "file_unlocked":
		fmt.Fprintf(os.Stdout, "\r* %v released %v (%v)\n", data["agentName"], data["filePath"], data["reason"])
	case "file_lock_denied":
		fmt.Fprintf(os.Stdout, "\r! lock denied: %v\n", data["reason"])
	case "error":
		fmt.Fprintf(os.Stdout, "\r! error: %v\n", data["message"])
	case "pong":
		fmt.Fprintf(os.Stdout, "\r* pong\n")
	default:
		pretty, _ := json.MarshalIndent(data, "", "  ")
		fmt.Fprintf(os.Stdout, "\r[%s] %s\n", f.Type, pretty)
	}
}
