package branch

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nugget/think-ai-agent/internal/memory"
)

// ErrCommitted is returned when a draft is used after Commit.
var ErrCommitted = errors.New("draft already committed")

// ProvisionalID names a locally created node that the store has not
// assigned an id to yet. It is a distinct type so it can never be
// confused with a stored message id.
type ProvisionalID string

// Node is a provisional message.
type Node struct {
	ID      ProvisionalID
	Parent  ProvisionalID // empty for the first node, which hangs off the anchor
	Role    memory.Role
	Tool    string
	Content string
}

// Draft tracks messages produced during a run before the store's ids
// are known. Provisional nodes live only in the draft; the base Tree
// is never modified. When the run finishes, Commit swaps the whole
// draft for a Tree rebuilt from the store.
//
// A Draft is safe for concurrent use.
type Draft struct {
	mu        sync.Mutex
	base      *Tree
	anchor    *int64
	nodes     []*Node
	seq       int
	committed bool
}

// NewDraft starts a draft on top of base, hanging off anchor (nil for a
// new root).
func NewDraft(base *Tree, anchor *int64) *Draft {
	if base == nil {
		base = Build(nil)
	}
	return &Draft{base: base, anchor: anchor}
}

// Anchor returns the authoritative message the draft extends.
func (d *Draft) Anchor() *int64 { return d.anchor }

// Add appends a provisional node after the last one and returns its id.
func (d *Draft) Add(role memory.Role, content string) (ProvisionalID, error) {
	return d.add(role, "", content)
}

// AddTool appends a provisional tool node.
func (d *Draft) AddTool(tool, result string) (ProvisionalID, error) {
	return d.add(memory.RoleTool, tool, result)
}

func (d *Draft) add(role memory.Role, tool, content string) (ProvisionalID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed {
		return "", ErrCommitted
	}

	d.seq++
	n := &Node{
		ID:      ProvisionalID(fmt.Sprintf("tmp-%d", d.seq)),
		Role:    role,
		Tool:    tool,
		Content: content,
	}
	if len(d.nodes) > 0 {
		n.Parent = d.nodes[len(d.nodes)-1].ID
	}
	d.nodes = append(d.nodes, n)
	return n.ID, nil
}

// AppendText extends a provisional node's content, as streamed text
// arrives.
func (d *Draft) AppendText(id ProvisionalID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed {
		return ErrCommitted
	}
	for _, n := range d.nodes {
		if n.ID == id {
			n.Content += text
			return nil
		}
	}
	return fmt.Errorf("provisional node %s: %w", id, memory.ErrNotFound)
}

// Nodes returns a copy of the provisional nodes in creation order.
func (d *Draft) Nodes() []Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Node, len(d.nodes))
	for i, n := range d.nodes {
		out[i] = *n
	}
	return out
}

// Transcript renders the authoritative thread up to the anchor followed
// by the provisional nodes, for display while a run is in progress.
func (d *Draft) Transcript() (string, error) {
	var b strings.Builder
	if d.anchor != nil {
		thread, err := d.base.Thread(*d.anchor)
		if err != nil {
			return "", err
		}
		for _, m := range thread {
			fmt.Fprintf(&b, "[%d] %s: %s\n", m.ID, m.Role, m.Content)
		}
	}
	for _, n := range d.Nodes() {
		if n.Tool != "" {
			fmt.Fprintf(&b, "[%s] %s(%s): %s\n", n.ID, n.Role, n.Tool, n.Content)
			continue
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", n.ID, n.Role, n.Content)
	}
	return b.String(), nil
}

// Commit discards every provisional node and returns the index rebuilt
// from the store's flat message list. The draft cannot be used again.
func (d *Draft) Commit(flat []memory.Message) (*Tree, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.committed {
		return nil, ErrCommitted
	}
	d.committed = true
	d.nodes = nil
	return Build(flat), nil
}
