package memory

import (
	"fmt"
	"slices"
)

// IndexByID keys messages by id.
func IndexByID(msgs []Message) map[int64]Message {
	index := make(map[int64]Message, len(msgs))
	for _, m := range msgs {
		index[m.ID] = m
	}
	return index
}

// AncestorPath walks parent links from leafID to a root and returns the
// path root first. A revisited id means the stored links form a cycle;
// a parent missing from index means the link points outside the chat.
// Both are reported as ErrIntegrity rather than looping or truncating.
func AncestorPath(index map[int64]Message, leafID int64) ([]Message, error) {
	leaf, ok := index[leafID]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", leafID, ErrNotFound)
	}

	visited := make(map[int64]bool)
	path := []Message{leaf}
	visited[leafID] = true

	cur := leaf
	for cur.ParentID != nil {
		pid := *cur.ParentID
		if visited[pid] {
			return nil, fmt.Errorf("%w: cycle at message %d walking up from %d", ErrIntegrity, pid, leafID)
		}
		parent, ok := index[pid]
		if !ok {
			return nil, fmt.Errorf("%w: message %d has parent %d outside chat %s", ErrIntegrity, cur.ID, pid, cur.ChatID)
		}
		visited[pid] = true
		path = append(path, parent)
		cur = parent
	}

	slices.Reverse(path)
	return path, nil
}
