// Package branch builds the parent/child index of a chat from its flat
// message list and answers the navigation questions a client asks:
// which messages are siblings, where a message sits among them, and
// which head to show after switching branches.
package branch

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/nugget/think-ai-agent/internal/memory"
)

// RootKey is the adjacency key under which thread roots are listed.
const RootKey = "ROOT"

// Tree is an immutable index over one chat's authoritative messages.
type Tree struct {
	byID     map[int64]memory.Message
	roots    []int64
	children map[int64][]int64
	maxID    int64
}

// Build indexes flat, which may be in any order. Children are ordered
// oldest first.
func Build(flat []memory.Message) *Tree {
	t := &Tree{
		byID:     memory.IndexByID(flat),
		children: make(map[int64][]int64),
	}
	for _, m := range flat {
		if m.ID > t.maxID {
			t.maxID = m.ID
		}
		if m.ParentID == nil {
			t.roots = append(t.roots, m.ID)
			continue
		}
		t.children[*m.ParentID] = append(t.children[*m.ParentID], m.ID)
	}
	slices.Sort(t.roots)
	for _, ids := range t.children {
		slices.Sort(ids)
	}
	return t
}

// Len returns the number of indexed messages.
func (t *Tree) Len() int { return len(t.byID) }

// Message returns the indexed message with id.
func (t *Tree) Message(id int64) (memory.Message, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// Roots returns the ids of all thread roots.
func (t *Tree) Roots() []int64 { return slices.Clone(t.roots) }

// Children returns the direct children of id, oldest first.
func (t *Tree) Children(id int64) []int64 { return slices.Clone(t.children[id]) }

// Siblings returns every message sharing id's parent, id included.
// Roots are siblings of each other.
func (t *Tree) Siblings(id int64) []int64 {
	m, ok := t.byID[id]
	if !ok {
		return nil
	}
	if m.ParentID == nil {
		return t.Roots()
	}
	return t.Children(*m.ParentID)
}

// Position returns id's 1-based index among its siblings and the
// sibling count, or 0, 0 if id is unknown.
func (t *Tree) Position(id int64) (index, count int) {
	sibs := t.Siblings(id)
	i := slices.Index(sibs, id)
	if i < 0 {
		return 0, 0
	}
	return i + 1, len(sibs)
}

// Thread returns the path from the root to head.
func (t *Tree) Thread(head int64) ([]memory.Message, error) {
	return memory.AncestorPath(t.byID, head)
}

// Head returns the newest message in the chat, the default head when
// a chat is opened. ok is false for an empty tree.
func (t *Tree) Head() (id int64, ok bool) {
	return t.maxID, len(t.byID) > 0
}

// Latest descends from id through the newest child at each level and
// returns the leaf reached.
func (t *Tree) Latest(id int64) int64 {
	seen := map[int64]bool{id: true}
	for {
		kids := t.children[id]
		if len(kids) == 0 {
			return id
		}
		next := kids[len(kids)-1]
		if seen[next] {
			return id
		}
		seen[next] = true
		id = next
	}
}

// Switch moves from id to the sibling delta positions away (clamped to
// the ends) and returns the leaf the client should show, which is that
// sibling's latest descendant.
func (t *Tree) Switch(id int64, delta int) (int64, error) {
	sibs := t.Siblings(id)
	i := slices.Index(sibs, id)
	if i < 0 {
		return 0, fmt.Errorf("message %d: %w", id, memory.ErrNotFound)
	}
	i = min(max(i+delta, 0), len(sibs)-1)
	return t.Latest(sibs[i]), nil
}

// Adjacency returns the parent -> children map with roots under
// RootKey, the shape clients consume.
func (t *Tree) Adjacency() map[string][]int64 {
	out := make(map[string][]int64, len(t.children)+1)
	if len(t.roots) > 0 {
		out[RootKey] = t.Roots()
	}
	for parent, kids := range t.children {
		out[strconv.FormatInt(parent, 10)] = slices.Clone(kids)
	}
	return out
}
