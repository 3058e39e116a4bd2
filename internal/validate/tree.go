package validate

import (
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

type reach uint8

const (
	reachUnknown reach = iota
	reachVisiting
	reachOK
	reachBroken
)

// PruneOrphans enforces that every message hangs off a root. A message whose
// parent does not exist, or that sits on a parent cycle, is dropped together
// with its descendants; each drop is reported as a message-scoped validation
// skip. The returned conversation is a copy when anything was dropped.
//
// If no message survives, err is a conversation-scoped skip and kept is nil.
func PruneOrphans(c *model.Conversation) (kept *model.Conversation, dropped []*archive.SkipError, err error) {
	index := make(map[string]int, len(c.Messages))
	for i, m := range c.Messages {
		if _, dup := index[m.ID]; !dup {
			index[m.ID] = i
		}
	}

	state := make([]reach, len(c.Messages))
	reason := make([]string, len(c.Messages))

	var resolve func(i int) reach
	resolve = func(i int) reach {
		switch state[i] {
		case reachVisiting:
			// back on the current path: cycle
			state[i] = reachBroken
			reason[i] = "message is part of a parent cycle"
			return reachBroken
		case reachUnknown:
		default:
			return state[i]
		}

		m := c.Messages[i]
		if m.IsRoot() {
			state[i] = reachOK
			return reachOK
		}
		p, ok := index[m.ParentID]
		if !ok {
			state[i] = reachBroken
			reason[i] = "parent_id " + quote(m.ParentID) + " does not reference a message in this conversation"
			return reachBroken
		}

		state[i] = reachVisiting
		res := resolve(p)
		if state[i] == reachBroken {
			// closed a cycle through this message
			return reachBroken
		}
		state[i] = res
		if res == reachBroken {
			reason[i] = "ancestor " + quote(m.ParentID) + " was dropped"
		}
		return res
	}

	broken := 0
	for i := range c.Messages {
		if resolve(i) == reachBroken {
			broken++
		}
	}
	if broken == 0 {
		return c, nil, nil
	}
	if broken == len(c.Messages) {
		return nil, nil, archive.Skip(c.ID, archive.CategoryValidation, "no message is reachable from a root message")
	}

	out := *c
	out.Messages = make([]model.Message, 0, len(c.Messages)-broken)
	for i, m := range c.Messages {
		if state[i] == reachBroken {
			dropped = append(dropped, archive.Skip(c.ID+"/"+m.ID, archive.CategoryValidation, "%s", reason[i]))
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	return &out, dropped, nil
}

func quote(s string) string {
	return `"` + s + `"`
}
