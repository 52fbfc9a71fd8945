package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/classline/classline/internal/ctl"
	"github.com/classline/classline/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := ctl.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "retry":
		fail(c.Retry(ctx))
		fmt.Println("retry requested")
	case "foreground":
		fail(c.Foreground(ctx))
		fmt.Println("foreground notified")
	case "reconnect":
		fail(c.ForceReconnect(ctx))
		fmt.Println("reconnect requested")
	case "rooms":
		cmdRooms(ctx, c, *jsonFlag)
	case "messages":
		requireArgs(args, 2, "chatctl messages <room>")
		cmdMessages(ctx, c, args[1], *jsonFlag)
	case "send":
		requireArgs(args, 3, "chatctl send <room> <body>")
		cmdSend(ctx, c, args[1], args[2], *jsonFlag)
	case "join":
		requireArgs(args, 2, "chatctl join <room>")
		fail(c.Join(ctx, args[1]))
		fmt.Printf("joined %s\n", args[1])
	case "leave":
		requireArgs(args, 2, "chatctl leave <room>")
		fail(c.Leave(ctx, args[1]))
		fmt.Printf("left %s\n", args[1])
	case "pin":
		requireArgs(args, 2, "chatctl pin <room>")
		cmdPin(ctx, c, args[1])
	case "broadcast":
		requireArgs(args, 2, "chatctl broadcast <body>")
		cmdBroadcast(ctx, c, args[1], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show connection and gate state")
	fmt.Fprintln(os.Stderr, "  retry                  Run the manual connectivity retry")
	fmt.Fprintln(os.Stderr, "  foreground             Notify the daemon the app is visible")
	fmt.Fprintln(os.Stderr, "  reconnect              Force-close and redial the connection")
	fmt.Fprintln(os.Stderr, "  rooms                  List rooms in render order")
	fmt.Fprintln(os.Stderr, "  messages <room>        List a room's messages")
	fmt.Fprintln(os.Stderr, "  send <room> <body>     Send a text message")
	fmt.Fprintln(os.Stderr, "  join <room>            Join a room's realtime session")
	fmt.Fprintln(os.Stderr, "  leave <room>           Leave a room's realtime session")
	fmt.Fprintln(os.Stderr, "  pin <room>             Toggle a room's pin")
	fmt.Fprintln(os.Stderr, "  broadcast <body>       Message every enrolled student")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: %s\n", usage)
		os.Exit(1)
	}
}

func fail(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	status, err := c.Status(ctx)
	fail(err)
	if jsonOut {
		outputJSON(status)
		return
	}
	fmt.Printf("Session: %s\n", status.Session)
	fmt.Printf("State:   %s\n", status.State)
	fmt.Printf("Network: %s\n", status.Network)
	fmt.Printf("Server:  %s\n", status.Server)
	if status.Blocked {
		fmt.Println("Gate:    BLOCKED")
	} else {
		fmt.Println("Gate:    open")
	}
	if status.LastConnectedAt > 0 {
		fmt.Printf("Last up: %s\n", time.UnixMilli(status.LastConnectedAt).Format(time.RFC3339))
	}
}

func cmdRooms(ctx context.Context, c *ctl.Client, jsonOut bool) {
	rooms, err := c.Rooms(ctx)
	fail(err)
	if jsonOut {
		outputJSON(rooms)
		return
	}
	for _, r := range rooms {
		marker := " "
		if r.Pinned {
			marker = "*"
		}
		fmt.Printf("%s %-20s unread=%-3d %s\n", marker, r.ID, r.UnreadCount, r.LastMessagePreview)
	}
}

func cmdMessages(ctx context.Context, c *ctl.Client, roomID string, jsonOut bool) {
	msgs, err := c.Messages(ctx, roomID)
	fail(err)
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		state := ""
		if m.Pending {
			state = " (sending)"
		}
		fmt.Printf("[%s] %s: %s%s\n",
			time.UnixMilli(m.CreatedAt).Format("15:04:05"), m.SenderID, m.Body, state)
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, roomID, body string, jsonOut bool) {
	msg, err := c.Send(ctx, roomID, body)
	fail(err)
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("queued %s\n", msg.ID)
}

func cmdPin(ctx context.Context, c *ctl.Client, roomID string) {
	pinned, err := c.TogglePin(ctx, roomID)
	fail(err)
	if pinned {
		fmt.Printf("pinned %s\n", roomID)
	} else {
		fmt.Printf("unpinned %s\n", roomID)
	}
}

func cmdBroadcast(ctx context.Context, c *ctl.Client, body string, jsonOut bool) {
	res, err := c.Broadcast(ctx, body)
	fail(err)
	if jsonOut {
		outputJSON(res)
		return
	}
	fmt.Println(res.Summary())
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
