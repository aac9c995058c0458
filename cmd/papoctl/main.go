package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matfraga/papo/internal/api"
	"github.com/matfraga/papo/internal/profile"
	"github.com/matfraga/papo/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// "profiles list" needs no daemon.
	if args[0] == "profiles" {
		if len(args) >= 2 && args[1] == "list" {
			cmdProfilesList(*jsonFlag)
			return
		}
		fmt.Fprintln(os.Stderr, "usage: papoctl profiles list")
		os.Exit(1)
	}

	c := client.New(profile.SocketPath(profileName))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "chats":
		cmdChats(ctx, c, *jsonFlag)
	case "open":
		requireArg(args, 2, "papoctl open <chat-id>")
		cmdOpen(ctx, c, args[1], *jsonFlag)
	case "messages":
		requireArg(args, 2, "papoctl messages <chat-id>")
		cmdMessages(ctx, c, args[1], *jsonFlag)
	case "send":
		requireArg(args, 3, "papoctl send <chat-id> <text>")
		cmdSend(ctx, c, args[1], args[2], *jsonFlag)
	case "find":
		requireArg(args, 2, "papoctl find <name>")
		cmdFind(ctx, c, args[1], *jsonFlag)
	case "search":
		requireArg(args, 2, "papoctl search <query>")
		cmdSearch(ctx, c, args[1], *jsonFlag)
	case "events":
		cmdEvents(c)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: papoctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show connection status")
	fmt.Fprintln(os.Stderr, "  chats                List chats")
	fmt.Fprintln(os.Stderr, "  open <chat-id>       Open a chat and print its history")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>   Print a chat's messages")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <txt> Send a message (chat must be open)")
	fmt.Fprintln(os.Stderr, "  find <name>          Search users on the server")
	fmt.Fprintln(os.Stderr, "  search <query>       Full-text search cached messages")
	fmt.Fprintln(os.Stderr, "  events               Tail daemon events")
	fmt.Fprintln(os.Stderr, "  profiles list        List known profiles")
}

func requireArg(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Status(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile: %s\n", resp.Profile)
	fmt.Printf("User:    %s\n", resp.UserID)
	fmt.Printf("State:   %s\n", resp.State)
	if resp.Warning != "" {
		fmt.Printf("Warning: %s\n", resp.Warning)
	}
}

func cmdChats(ctx context.Context, c *client.Client, jsonOut bool) {
	chats, err := c.Chats(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	for _, chat := range chats {
		name := chat.DisplayName
		if name == "" {
			name = chat.ChatID
		}
		unread := ""
		if chat.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", chat.UnreadCount)
		}
		fmt.Printf("%-20s %s%s\n", chat.ChatID, name, unread)
	}
}

func cmdOpen(ctx context.Context, c *client.Client, chatID string, jsonOut bool) {
	msgs, err := c.OpenChat(ctx, chatID)
	if err != nil {
		fatal(err)
	}
	printMessages(msgs, jsonOut)
}

func cmdMessages(ctx context.Context, c *client.Client, chatID string, jsonOut bool) {
	msgs, err := c.Messages(ctx, chatID)
	if err != nil {
		fatal(err)
	}
	printMessages(msgs, jsonOut)
}

func printMessages(msgs []api.MessageResponse, jsonOut bool) {
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		sender := m.SenderID
		if m.IsOwn {
			sender = "you"
		}
		ts := time.UnixMilli(m.SentAt).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s (%s): %s\n", ts, sender, m.Delivery, m.Body)
	}
}

func cmdSend(ctx context.Context, c *client.Client, chatID, text string, jsonOut bool) {
	msg, err := c.Send(ctx, chatID, text)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("sent %s (%s)\n", msg.LocalID, msg.Delivery)
}

func cmdFind(ctx context.Context, c *client.Client, query string, jsonOut bool) {
	users, err := c.SearchUsers(ctx, query)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%-20s %s\n", u.ID, u.Name)
	}
}

func cmdSearch(ctx context.Context, c *client.Client, query string, jsonOut bool) {
	results, err := c.SearchMessages(ctx, query)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	for _, r := range results {
		ts := time.UnixMilli(r.Message.SentAt).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", ts, r.Message.ChatID, r.Snippet)
	}
}

func cmdProfilesList(jsonOut bool) {
	names := profile.List()
	if jsonOut {
		outputJSON(names)
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func cmdEvents(c *client.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Events(ctx, "")
	if err != nil {
		fatal(err)
	}
	for ev := range events {
		outputJSON(ev)
	}
}
