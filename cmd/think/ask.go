package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nugget/think-ai-agent/internal/agent"
	"github.com/nugget/think-ai-agent/internal/branch"
	"github.com/nugget/think-ai-agent/internal/memory"
)

// askFlags are the arguments of "think ask".
type askFlags struct {
	chatID   string
	parent   agent.ParentRef
	mode     string
	model    string
	question string
}

func parseAskFlags(args []string) (askFlags, error) {
	var f askFlags
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-chat" && i+1 < len(args):
			f.chatID = args[i+1]
			i++
		case args[i] == "-parent" && i+1 < len(args):
			id, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return f, fmt.Errorf("invalid -parent %q: %w", args[i+1], err)
			}
			f.parent = agent.ParentOf(id)
			i++
		case args[i] == "-root":
			f.parent = agent.RootParent()
		case args[i] == "-mode" && i+1 < len(args):
			f.mode = args[i+1]
			i++
		case args[i] == "-model" && i+1 < len(args):
			f.model = args[i+1]
			i++
		case args[i] == "--":
			words = append(words, args[i+1:]...)
			i = len(args)
		default:
			words = append(words, args[i])
		}
	}
	f.question = strings.TrimSpace(strings.Join(words, " "))
	if f.question == "" {
		return f, errors.New("usage: think ask [-chat ID] [-parent N | -root] [-mode write] [-model pro] <question>")
	}
	return f, nil
}

// runAsk handles "think ask". It runs the agent in-process against the
// configured store, streaming the answer to stdout. Without -parent or
// -root the question continues the newest message of the chat.
//
// With -o json every event is written to stdout as one JSON line, the
// same framing the NDJSON HTTP transport uses.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	flags, err := parseAskFlags(args)
	if err != nil {
		return err
	}

	a, err := openApp(opts.configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	coord, sum, err := a.coordinator(ctx)
	if err != nil {
		return err
	}
	if sum != nil {
		// Let the summary of this question land before exiting.
		defer sum.Stop()
		defer sum.Wait()
	}

	tree := branch.Build(nil)
	if flags.chatID != "" {
		flat, err := a.store.GetFlatMessages(ctx, flags.chatID)
		if err != nil {
			return err
		}
		tree = branch.Build(flat)
	}
	if !flags.parent.Set {
		// New chats start a root; existing ones continue from the head.
		flags.parent = agent.RootParent()
		if head, ok := tree.Head(); ok {
			flags.parent = agent.ParentOf(head)
		}
	}

	req := agent.Request{
		ChatID:   flags.chatID,
		Messages: []agent.InputMessage{{Role: string(memory.RoleUser), Content: flags.question}},
		Parent:   flags.parent,
		Model:    flags.model,
		Mode:     flags.mode,
	}

	p := &askPrinter{
		out:   stdout,
		diag:  stderr,
		json:  opts.outputFmt == "json",
		draft: branch.NewDraft(tree, flags.parent.ID),
	}
	if _, err := p.draft.Add(memory.RoleUser, flags.question); err != nil {
		return err
	}

	res, err := coord.Run(ctx, req, p.emit)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	flat, err := a.store.GetFlatMessages(ctx, res.ChatID)
	if err != nil {
		return err
	}
	final, err := p.draft.Commit(flat)
	if err != nil {
		return err
	}
	if !p.json {
		if !strings.HasSuffix(p.last, "\n") {
			fmt.Fprintln(stdout)
		}
		index, count := final.Position(res.Head)
		fmt.Fprintf(stderr, "chat %s head %d (branch %d/%d, %d messages)\n", res.ChatID, res.Head, index, count, final.Len())
		if res.TurnLimitHit {
			fmt.Fprintln(stderr, "note: stopped at the tool turn limit")
		}
	}
	return nil
}

// askPrinter renders run events for a terminal and mirrors them into a
// provisional draft of the branch being grown.
type askPrinter struct {
	out, diag io.Writer
	json      bool
	draft     *branch.Draft
	reply     branch.ProvisionalID // current assistant node, empty between turns
	last      string
}

func (p *askPrinter) emit(ev agent.Event) error {
	if err := p.track(ev); err != nil {
		return err
	}
	if p.json {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "%s\n", data)
		return err
	}

	switch ev.Type {
	case agent.EventSessionID:
		fmt.Fprintf(p.diag, "chat %s\n", ev.Value)
	case agent.EventContent:
		p.last = ev.Value
		_, err := io.WriteString(p.out, ev.Value)
		return err
	case agent.EventToolStart:
		fmt.Fprintf(p.diag, "[%s] ...\n", ev.Tool)
	case agent.EventToolResult:
		fmt.Fprintf(p.diag, "[%s] %s\n", ev.Tool, firstLine(ev.Result))
	case agent.EventError:
		fmt.Fprintf(p.diag, "error: %s\n", ev.Value)
	}
	return nil
}

// track grows the draft: streamed text extends the current assistant
// node and each tool result becomes its own node.
func (p *askPrinter) track(ev agent.Event) error {
	switch ev.Type {
	case agent.EventContent:
		if p.reply == "" {
			id, err := p.draft.Add(memory.RoleAssistant, "")
			if err != nil {
				return err
			}
			p.reply = id
		}
		return p.draft.AppendText(p.reply, ev.Value)
	case agent.EventToolStart:
		p.reply = ""
	case agent.EventToolResult:
		_, err := p.draft.AddTool(ev.Tool, ev.Result)
		return err
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
