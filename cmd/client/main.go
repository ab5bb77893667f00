package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/HMasataka/chathub/internal/logging"
	"github.com/HMasataka/chathub/pkg/chatclient"
	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/hub"
	"github.com/HMasataka/chathub/pkg/transport/protocol"
)

func main() {
	var (
		serverAddr = flag.String("server", "ws://localhost:3000/ws", "hub websocket URL")
		username   = flag.String("user", "", "username to register")
		token      = flag.String("token", "", "session token, if the hub requires one")
		logLevel   = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *username == "" {
		log.Fatal("-user is required")
	}

	logger := logging.New(logging.Config{
		Level:  *logLevel,
		Format: "text",
	})

	serverURL, err := url.Parse(*serverAddr)
	if err != nil {
		log.Fatalf("invalid server URL: %v", err)
	}

	options := chatclient.DefaultOptions()
	options.Logger = logger
	options.Token = *token

	client := chatclient.New(*serverURL, options)
	setupEventHandlers(client)

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	ack, err := client.Register(ctx, *username)
	if err != nil {
		log.Fatalf("registration failed: %v", err)
	}
	fmt.Printf("Signed in as %s (%s)\n", ack.Username, ack.ConnectionID)

	go func() {
		<-client.Done()
		fmt.Println("\nConnection closed")
		os.Exit(0)
	}()

	runInteractiveMode(ctx, client)
}

func setupEventHandlers(client *chatclient.Client) {
	printMessage := func(prefix string) chatclient.EventHandler {
		return func(_ context.Context, frame *protocol.Frame) error {
			var msg hub.MessagePayload
			if err := frame.Decode(&msg); err != nil {
				return err
			}
			body := msg.Text
			if body == "" {
				body = strings.TrimSpace(msg.FileName + " " + msg.MediaURL)
			}
			fmt.Printf("\n%s #%d %s: %s\n> ", prefix, msg.MessageID, msg.Sender, body)
			return nil
		}
	}

	client.On(domain.EventReceiveMessage, printMessage("[all]"))
	client.On(domain.EventReceiveSticker, printMessage("[all]"))
	client.On(domain.EventReceiveChannelMessage, printMessage("[channel]"))
	client.On(domain.EventReceiveChannelSticker, printMessage("[channel]"))
	client.On(domain.EventReceiveDirectMessage, printMessage("[dm]"))
	client.On(domain.EventReceiveDirectAttachment, printMessage("[dm]"))

	client.On(domain.EventUserList, func(_ context.Context, frame *protocol.Frame) error {
		var list hub.UserListPayload
		if err := frame.Decode(&list); err != nil {
			return err
		}
		fmt.Printf("\nOnline: %s\n> ", strings.Join(list.Users, ", "))
		return nil
	})

	client.On(domain.EventUserTyping, func(_ context.Context, frame *protocol.Frame) error {
		var typing hub.TypingPayload
		if err := frame.Decode(&typing); err != nil {
			return err
		}
		fmt.Printf("\n%s is typing...\n> ", typing.Username)
		return nil
	})

	client.On(domain.EventMessageDeleted, func(_ context.Context, frame *protocol.Frame) error {
		var deleted hub.DeletedPayload
		if err := frame.Decode(&deleted); err != nil {
			return err
		}
		fmt.Printf("\nMessage #%d was deleted\n> ", deleted.MessageID)
		return nil
	})

	client.On(domain.EventError, func(_ context.Context, frame *protocol.Frame) error {
		var payload hub.ErrorPayload
		if err := frame.Decode(&payload); err != nil {
			return err
		}
		fmt.Printf("\nError %s: %s\n> ", payload.Code, payload.Message)
		return nil
	})
}

func runInteractiveMode(ctx context.Context, client *chatclient.Client) {
	fmt.Println("Commands:")
	fmt.Println("  say <text>             - Send to everyone")
	fmt.Println("  join <channel_id>      - Join a channel")
	fmt.Println("  leave <channel_id>     - Leave a channel")
	fmt.Println("  ch <channel_id> <text> - Send to a channel")
	fmt.Println("  history <channel_id>   - Show channel history")
	fmt.Println("  dm <user> <text>       - Send a direct message")
	fmt.Println("  open <user>            - Show direct history")
	fmt.Println("  typing <user>          - Tell a friend you are typing")
	fmt.Println("  delete <message_id>    - Delete one of your messages")
	fmt.Println("  quit                   - Exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		if err := runCommand(ctx, client, parts[0], parts[1:]); err != nil {
			if err == errQuit {
				fmt.Println("Goodbye!")
				return
			}
			fmt.Printf("Error: %v\n", err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func runCommand(ctx context.Context, client *chatclient.Client, command string, args []string) error {
	switch command {
	case "say":
		if len(args) < 1 {
			return fmt.Errorf("usage: say <text>")
		}
		return client.SendMessage(ctx, strings.Join(args, " "))

	case "join", "leave", "history":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s <channel_id>", command)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid channel id %q", args[0])
		}
		switch command {
		case "join":
			return client.JoinChannel(ctx, id)
		case "leave":
			return client.LeaveChannel(ctx, id)
		}
		history, err := client.LoadChannelHistory(ctx, id)
		if err != nil {
			return err
		}
		printHistory(history.Messages)
		return nil

	case "ch":
		if len(args) < 2 {
			return fmt.Errorf("usage: ch <channel_id> <text>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid channel id %q", args[0])
		}
		return client.SendChannelMessage(ctx, id, strings.Join(args[1:], " "))

	case "dm":
		if len(args) < 2 {
			return fmt.Errorf("usage: dm <user> <text>")
		}
		return client.SendDirectMessage(ctx, args[0], strings.Join(args[1:], " "))

	case "open":
		if len(args) < 1 {
			return fmt.Errorf("usage: open <user>")
		}
		history, err := client.OpenDirectChannel(ctx, args[0])
		if err != nil {
			return err
		}
		printHistory(history.Messages)
		return nil

	case "typing":
		if len(args) < 1 {
			return fmt.Errorf("usage: typing <user>")
		}
		return client.Typing(ctx, domain.DirectTyping{Recipient: args[0]})

	case "delete":
		if len(args) < 1 {
			return fmt.Errorf("usage: delete <message_id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[0])
		}
		return client.DeleteMessage(ctx, id)

	case "quit":
		return errQuit

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printHistory(messages []hub.MessagePayload) {
	if len(messages) == 0 {
		fmt.Println("(no messages)")
		return
	}
	for _, m := range messages {
		fmt.Printf("  #%d %s %s: %s\n", m.MessageID, m.Timestamp.Format("15:04"), m.Sender, m.Text)
	}
}
