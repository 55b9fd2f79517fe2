// Command relay-chat-client is a line-oriented terminal client for the chat
// server. Commands start with a slash; any other input is sent as a public
// message to the current room.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"relay-chat-server/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{conn: conn}
	go c.readLoop()

	printHelp()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := c.handleLine(line); err != nil {
			fmt.Println(err)
		}
	}
}

type client struct {
	conn net.Conn

	mu          sync.Mutex
	currentRoom string
}

func printHelp() {
	fmt.Print(`commands:
  /register <username> <password>
  /login <username> <password>
  /create <room>
  /join <room>
  /leave
  /pm <username> <message>
  /history [limit]
  /passwd <old> <new>
  /rename <username>
  /quit
anything else is sent to the current room
`)
}

func (c *client) handleLine(line string) error {
	if !strings.HasPrefix(line, "/") {
		return c.send(&protocol.Envelope{
			Type:          protocol.TypePublicMessage,
			PublicMessage: &protocol.PublicMessage{Content: line},
		})
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/register":
		if len(args) != 2 {
			return fmt.Errorf("usage: /register <username> <password>")
		}
		return c.send(&protocol.Envelope{
			Type:                protocol.TypeRegistrationRequest,
			RegistrationRequest: &protocol.RegistrationRequest{Username: args[0], Password: args[1]},
		})
	case "/login":
		if len(args) != 2 {
			return fmt.Errorf("usage: /login <username> <password>")
		}
		return c.send(&protocol.Envelope{
			Type:         protocol.TypeLoginRequest,
			LoginRequest: &protocol.LoginRequest{Username: args[0], Password: args[1]},
		})
	case "/create", "/join":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <room>", cmd)
		}
		op := protocol.RoomOpJoin
		if cmd == "/create" {
			op = protocol.RoomOpCreate
		}
		return c.send(&protocol.Envelope{
			Type:                 protocol.TypeRoomOperationRequest,
			RoomOperationRequest: &protocol.RoomOperationRequest{Operation: op, RoomName: args[0]},
		})
	case "/leave":
		room := c.room()
		if room == "" {
			return fmt.Errorf("not in a room")
		}
		return c.send(&protocol.Envelope{
			Type:                 protocol.TypeRoomOperationRequest,
			RoomOperationRequest: &protocol.RoomOperationRequest{Operation: protocol.RoomOpLeave, RoomName: room},
		})
	case "/pm":
		if len(args) < 2 {
			return fmt.Errorf("usage: /pm <username> <message>")
		}
		return c.send(&protocol.Envelope{
			Type: protocol.TypePrivateMessageRequest,
			PrivateMessageRequest: &protocol.PrivateMessageRequest{
				ToUsername: args[0],
				Content:    strings.Join(args[1:], " "),
			},
		})
	case "/history":
		room := c.room()
		if room == "" {
			return fmt.Errorf("not in a room")
		}
		limit := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("usage: /history [limit]")
			}
			limit = n
		}
		return c.send(&protocol.Envelope{
			Type:           protocol.TypeHistoryRequest,
			HistoryRequest: &protocol.HistoryRequest{RoomName: room, Limit: int32(limit)},
		})
	case "/passwd":
		if len(args) != 2 {
			return fmt.Errorf("usage: /passwd <old> <new>")
		}
		return c.send(&protocol.Envelope{
			Type:                  protocol.TypeChangePasswordRequest,
			ChangePasswordRequest: &protocol.ChangePasswordRequest{OldPassword: args[0], NewPassword: args[1]},
		})
	case "/rename":
		if len(args) != 1 {
			return fmt.Errorf("usage: /rename <username>")
		}
		return c.send(&protocol.Envelope{
			Type:                  protocol.TypeChangeUsernameRequest,
			ChangeUsernameRequest: &protocol.ChangeUsernameRequest{NewUsername: args[0]},
		})
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

func (c *client) send(env *protocol.Envelope) error {
	frame, err := protocol.EncodeFrame(env)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}

func (c *client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoom
}

func (c *client) setRoom(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentRoom = name
}

func (c *client) readLoop() {
	for {
		body, err := protocol.ReadFrame(c.conn)
		if err != nil {
			fmt.Println("disconnected:", err)
			os.Exit(1)
		}
		env, err := protocol.DecodeEnvelope(body)
		if err != nil {
			fmt.Println("bad frame from server:", err)
			os.Exit(1)
		}
		c.print(env)
	}
}

func (c *client) print(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeLoginResponse:
		fmt.Println(env.LoginResponse.Message)
	case protocol.TypeRegistrationResponse:
		fmt.Println(env.RegistrationResponse.Message)
	case protocol.TypeChangePasswordResponse:
		fmt.Println(env.ChangePasswordResponse.Message)
	case protocol.TypeChangeUsernameResponse:
		fmt.Println(env.ChangeUsernameResponse.Message)
	case protocol.TypeRoomOperationResponse:
		r := env.RoomOperationResponse
		fmt.Println(r.Message)
		if r.Success {
			switch r.Operation {
			case protocol.RoomOpJoin, protocol.RoomOpCreate:
				c.setRoom(r.RoomName)
			case protocol.RoomOpLeave:
				c.setRoom("")
			}
		}
	case protocol.TypeMessageBroadcast:
		b := env.MessageBroadcast
		fmt.Printf("[%s] %s: %s\n", b.RoomName, b.FromUsername, b.Content)
	case protocol.TypeServerNotification:
		fmt.Println("*", env.ServerNotification.Message)
	case protocol.TypeHistoryResponse:
		h := env.HistoryResponse
		fmt.Printf("--- history for %s (%d messages) ---\n", h.RoomName, len(h.Messages))
		for i := len(h.Messages) - 1; i >= 0; i-- {
			m := h.Messages[i]
			fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.FromUsername, m.Content)
		}
	case protocol.TypeErrorResponse:
		fmt.Println("error:", env.ErrorResponse.Message)
	default:
		fmt.Println("unexpected envelope:", env.Type)
	}
}
