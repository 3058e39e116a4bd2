package model

// Tree is a read-only index over a conversation's messages. The messages are
// stored as a flat adjacency list; Tree adds an id lookup map and a children
// list per message, built once.
type Tree struct {
	conv     *Conversation
	index    map[string]int
	children map[string][]int
	roots    []int
}

// NewTree indexes the messages of c. Messages whose parent cannot be
// resolved are treated as roots so that every message stays reachable.
func NewTree(c *Conversation) *Tree {
	t := &Tree{
		conv:     c,
		index:    make(map[string]int, len(c.Messages)),
		children: make(map[string][]int),
	}
	for i, m := range c.Messages {
		t.index[m.ID] = i
	}
	for i, m := range c.Messages {
		if _, ok := t.index[m.ParentID]; m.IsRoot() || !ok || m.ParentID == m.ID {
			t.roots = append(t.roots, i)
			continue
		}
		t.children[m.ParentID] = append(t.children[m.ParentID], i)
	}
	return t
}

// Tree returns a navigation index for the conversation.
func (c *Conversation) Tree() *Tree {
	return NewTree(c)
}

// Message returns the message with the given id.
func (t *Tree) Message(id string) (Message, bool) {
	i, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return t.conv.Messages[i], true
}

// Roots returns messages without a parent, in encounter order.
func (t *Tree) Roots() []Message {
	return t.collect(t.roots)
}

// Children returns the direct descendants of id, in encounter order.
func (t *Tree) Children(id string) []Message {
	return t.collect(t.children[id])
}

// Thread returns the path from a root down to leafID, inclusive. It returns
// nil when leafID is unknown.
func (t *Tree) Thread(leafID string) []Message {
	i, ok := t.index[leafID]
	if !ok {
		return nil
	}

	var path []Message
	seen := make(map[string]bool)
	for {
		m := t.conv.Messages[i]
		if seen[m.ID] {
			break
		}
		seen[m.ID] = true
		path = append(path, m)

		next, ok := t.index[m.ParentID]
		if m.IsRoot() || !ok {
			break
		}
		i = next
	}

	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

// AllThreads returns every root-to-leaf path, expanding depth-first from each
// root and branching at every message with more than one child.
func (t *Tree) AllThreads() [][]Message {
	var threads [][]Message
	var walk func(i int, prefix []Message)
	walk = func(i int, prefix []Message) {
		m := t.conv.Messages[i]
		path := append(prefix[:len(prefix):len(prefix)], m)
		kids := t.children[m.ID]
		if len(kids) == 0 {
			threads = append(threads, path)
			return
		}
		for _, k := range kids {
			walk(k, path)
		}
	}
	for _, r := range t.roots {
		walk(r, nil)
	}
	return threads
}

// Leaves returns messages without children, in encounter order.
func (t *Tree) Leaves() []Message {
	var out []Message
	for _, m := range t.conv.Messages {
		if len(t.children[m.ID]) == 0 {
			out = append(out, m)
		}
	}
	return out
}

func (t *Tree) collect(idx []int) []Message {
	if len(idx) == 0 {
		return nil
	}
	out := make([]Message, len(idx))
	for n, i := range idx {
		out[n] = t.conv.Messages[i]
	}
	return out
}

// Roots returns messages without a parent.
func (c *Conversation) Roots() []Message { return c.Tree().Roots() }

// Children returns the direct descendants of a message.
func (c *Conversation) Children(id string) []Message { return c.Tree().Children(id) }

// Thread returns the root-to-leaf path ending at leafID.
func (c *Conversation) Thread(leafID string) []Message { return c.Tree().Thread(leafID) }

// AllThreads returns every root-to-leaf path of the conversation.
func (c *Conversation) AllThreads() [][]Message { return c.Tree().AllThreads() }
