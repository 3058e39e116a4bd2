// Package model defines the canonical conversation entities produced by every
// archive provider, plus read-only navigation over a conversation's message
// tree.
//
// Entities are value objects: once a provider yields a Conversation, callers
// must not mutate it. Use Clone to obtain a copy that is safe to modify.
package model

import (
	"maps"
	"time"
)

// Role is the normalized author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Roles lists every valid Role.
var Roles = []Role{RoleUser, RoleAssistant, RoleSystem}

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Metadata keys shared by providers.
const (
	MetaOriginalRole      = "original_role"
	MetaTimestampInferred = "timestamp_inferred"
	MetaTitleInferred     = "title_inferred"
	MetaProvider          = "provider"
)

// Message is one turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ParentID references another message of the same conversation.
	// Empty marks a root.
	ParentID string `json:"parent_id,omitempty"`

	// Images holds image or attachment references.
	Images []string `json:"images,omitempty"`

	// Metadata preserves provider-specific fields, including the
	// original role label under MetaOriginalRole.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsRoot reports whether the message has no parent.
func (m Message) IsRoot() bool {
	return m.ParentID == ""
}

// Conversation is one exported chat session.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the conversation. Metadata maps are copied
// one level deep.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Metadata = maps.Clone(c.Metadata)
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Metadata = maps.Clone(m.Metadata)
		if m.Images != nil {
			m.Images = append([]string(nil), m.Images...)
		}
		out.Messages[i] = m
	}
	return &out
}

// MessageCount returns the number of messages in the conversation.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// SearchResult is one ranked search hit.
type SearchResult struct {
	Conversation *Conversation `json:"conversation"`

	// Score is the normalized relevance in [0, 1].
	Score float64 `json:"score"`

	// MatchedMessageIDs lists the messages that satisfied the content
	// match, in conversation order.
	MatchedMessageIDs []string `json:"matched_message_ids,omitempty"`

	// MatchCount is len(MatchedMessageIDs).
	MatchCount int `json:"match_count"`

	// Snippet is an excerpt of the first matching message.
	Snippet string `json:"snippet"`
}
