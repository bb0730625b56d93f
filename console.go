package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"izajadmin/internal/client"
	"izajadmin/internal/models"
)

const consoleHelp = `Commands:
  list                     show conversations
  open <room>              open a conversation
  connect / disconnect     engage or withdraw from the open conversation
  send <text>              send a message to the open conversation
  read                     mark the open conversation read
  show                     print the open conversation's messages
  export <xlsx|html> <file>  write the open conversation's transcript
  refresh                  re-fetch the conversation list
  quit`

// runConsole drives the client from a line-oriented command stream.
// Returns when the input ends, "quit" is entered or ctx is done.
func runConsole(ctx context.Context, c *client.Client, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(w, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(ctx, c, w, line); quit {
				return context.Canceled
			}
		}
	}
}

func dispatch(ctx context.Context, c *client.Client, w io.Writer, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	var err error

	switch cmd {
	case "":
	case "help":
		fmt.Fprintln(w, consoleHelp)
	case "list":
		printConversations(w, c.Conversations(), c.Selected())
	case "open":
		if err = c.Select(ctx, strings.TrimSpace(arg)); err == nil {
			printMessages(w, c.Messages(c.Selected()))
		}
	case "connect":
		err = c.Connect(ctx)
	case "disconnect":
		err = c.Disconnect(ctx)
	case "send":
		err = c.Send(ctx, arg)
	case "read":
		if room := c.Selected(); room != "" {
			c.MarkRead(ctx, room)
		}
	case "show":
		printMessages(w, c.Messages(c.Selected()))
	case "export":
		err = exportTranscript(c, arg)
	case "refresh":
		err = c.Refresh(ctx)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(w, "unknown command %q (try help)\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return false
}

func exportTranscript(c *client.Client, arg string) error {
	format, path, ok := strings.Cut(strings.TrimSpace(arg), " ")
	if !ok {
		return fmt.Errorf("usage: export <xlsx|html> <file>")
	}
	room := c.Selected()
	if room == "" {
		return client.ErrNoSelection
	}

	f, err := os.Create(strings.TrimSpace(path))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return c.Export(f, room, format)
}

func printConversations(w io.Writer, convs []models.Conversation, selected string) {
	for _, conv := range convs {
		marker := " "
		if conv.RoomID == selected {
			marker = "*"
		}
		last := ""
		if conv.LastMessage != nil {
			last = conv.LastMessage.Text
		}
		fmt.Fprintf(w, "%s %-20s unread=%-3d connected=%-5v %s\n",
			marker, conv.RoomID, conv.Unread, conv.AdminConnected, last)
	}
}

func printMessages(w io.Writer, msgs []models.Message) {
	for _, msg := range msgs {
		fmt.Fprintf(w, "[%s] %-8s %s\n", msg.CreatedAt.Format("15:04:05"), msg.Sender, msg.Text)
	}
}
