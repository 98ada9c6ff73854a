package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nugget/think-ai-agent/internal/branch"
	"github.com/nugget/think-ai-agent/internal/memory"
)

const chatsUsage = "usage: think chats list | show ID | thread MSGID | tree ID | rename ID TITLE | delete ID"

// runChats handles "think chats", the offline view of the same history
// the HTTP API serves.
func runChats(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	if len(args) == 0 {
		return errors.New(chatsUsage)
	}

	a, err := openApp(opts.configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	c := chatsCmd{store: a.store, out: stdout, json: opts.outputFmt == "json"}
	sub, rest := args[0], args[1:]
	switch {
	case sub == "list":
		return c.list(ctx)
	case sub == "show" && len(rest) == 1:
		return c.show(ctx, rest[0])
	case sub == "thread" && len(rest) == 1:
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q", rest[0])
		}
		return c.thread(ctx, id)
	case sub == "tree" && len(rest) == 1:
		return c.tree(ctx, rest[0])
	case sub == "rename" && len(rest) >= 2:
		return c.rename(ctx, rest[0], strings.Join(rest[1:], " "))
	case sub == "delete" && len(rest) == 1:
		return c.delete(ctx, rest[0])
	default:
		return errors.New(chatsUsage)
	}
}

type chatsCmd struct {
	store *memory.Store
	out   io.Writer
	json  bool
}

func (c chatsCmd) encode(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c chatsCmd) list(ctx context.Context) error {
	chats, err := c.store.ListChats(ctx, 0)
	if err != nil {
		return err
	}
	if c.json {
		if chats == nil {
			chats = []memory.Chat{}
		}
		return c.encode(chats)
	}
	if len(chats) == 0 {
		fmt.Fprintln(c.out, "No chats.")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tTITLE")
	for _, ch := range chats {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ch.ID, ch.UpdatedAt.Local().Format("2006-01-02 15:04"), ch.Title)
	}
	return tw.Flush()
}

// show prints the chat's current branch: the thread ending at its
// newest message, with each node's position among its siblings.
func (c chatsCmd) show(ctx context.Context, chatID string) error {
	chat, err := c.store.GetChat(ctx, chatID)
	if err != nil {
		return chatError(err, chatID)
	}
	flat, err := c.store.GetFlatMessages(ctx, chatID)
	if err != nil {
		return err
	}
	tree := branch.Build(flat)
	var thread []memory.Message
	if head, ok := tree.Head(); ok {
		if thread, err = tree.Thread(head); err != nil {
			return err
		}
	}

	if c.json {
		return c.encode(map[string]any{"chat": chat, "thread": thread})
	}
	fmt.Fprintf(c.out, "%s  %s\n", chat.ID, chat.Title)
	if goal, _ := chat.Summary["user_goal"].(string); goal != "" {
		fmt.Fprintf(c.out, "goal: %s\n", goal)
	}
	fmt.Fprintln(c.out)
	for _, m := range thread {
		index, count := tree.Position(m.ID)
		c.printMessage(m, fmt.Sprintf(" (%d/%d)", index, count))
	}
	return nil
}

func (c chatsCmd) thread(ctx context.Context, id int64) error {
	thread, err := c.store.GetThread(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return fmt.Errorf("message %d not found", id)
		}
		return err
	}
	if c.json {
		return c.encode(thread)
	}
	for _, m := range thread {
		c.printMessage(m, "")
	}
	return nil
}

func (c chatsCmd) printMessage(m memory.Message, suffix string) {
	label := string(m.Role)
	if m.ToolName != "" {
		label += ":" + m.ToolName
	}
	fmt.Fprintf(c.out, "[%d] %s%s\n", m.ID, label, suffix)
	if m.Content != "" {
		for _, line := range strings.Split(strings.TrimRight(m.Content, "\n"), "\n") {
			fmt.Fprintf(c.out, "    %s\n", line)
		}
	}
}

// tree prints the chat's messages as an indented outline, oldest
// sibling first.
func (c chatsCmd) tree(ctx context.Context, chatID string) error {
	if _, err := c.store.GetChat(ctx, chatID); err != nil {
		return chatError(err, chatID)
	}
	flat, err := c.store.GetFlatMessages(ctx, chatID)
	if err != nil {
		return err
	}
	tree := branch.Build(flat)
	if c.json {
		return c.encode(tree.Adjacency())
	}

	var walk func(ids []int64, depth int)
	walk = func(ids []int64, depth int) {
		for _, id := range ids {
			m, _ := tree.Message(id)
			fmt.Fprintf(c.out, "%s[%d] %s: %s\n", strings.Repeat("  ", depth), id, m.Role, preview(m.Content, 60))
			walk(tree.Children(id), depth+1)
		}
	}
	walk(tree.Roots(), 0)
	return nil
}

func (c chatsCmd) rename(ctx context.Context, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title must not be empty")
	}
	if err := c.store.RenameChat(ctx, chatID, title); err != nil {
		return chatError(err, chatID)
	}
	fmt.Fprintf(c.out, "Renamed %s to %q\n", chatID, title)
	return nil
}

func (c chatsCmd) delete(ctx context.Context, chatID string) error {
	if err := c.store.DeleteChat(ctx, chatID); err != nil {
		return chatError(err, chatID)
	}
	fmt.Fprintf(c.out, "Deleted %s\n", chatID)
	return nil
}

func chatError(err error, chatID string) error {
	if errors.Is(err, memory.ErrNotFound) {
		return fmt.Errorf("chat %s not found", chatID)
	}
	return err
}

// preview flattens s to one line of at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
