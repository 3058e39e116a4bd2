// Package openai reads ChatGPT data exports (conversations.json).
//
// A ChatGPT conversation is a node graph under "mapping". Nodes without a
// message are structural (the synthetic root, for instance); their children
// hang off the nearest ancestor that carries a message. Messages are emitted
// depth-first from each root following each node's children order, so edited
// branches appear after the branch they forked from.
package openai

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/aucontraire/echomine-sub001/internal/validate"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
	"github.com/aucontraire/echomine-sub001/pkg/provider"
)

// Name is the provider label.
const Name = "openai"

// Message metadata keys specific to this export.
const (
	MetaHidden      = "hidden"
	MetaContentType = "content_type"
	MetaModel       = "model_slug"
	MetaAuthorName  = "author_name"
)

// New returns a provider for ChatGPT exports.
func New(opts ...provider.Option) *provider.Adapter {
	return provider.New(Dialect{}, opts...)
}

// Dialect implements provider.Dialect for ChatGPT exports.
type Dialect struct{}

var _ provider.Dialect = Dialect{}

func (Dialect) Name() string { return Name }

func (Dialect) SupportedVersions() []string { return []string{"1"} }

func (Dialect) Schema() validate.Schema {
	return validate.Schema{
		IDKeys: []string{"id", "conversation_id"},
		Fields: []validate.Field{
			{Name: "id", Kind: validate.KindString, Optional: true},
			{Name: "conversation_id", Kind: validate.KindString, Optional: true},
			{Name: "title", Kind: validate.KindString, Optional: true},
			{Name: "create_time", Kind: validate.KindNumber},
			{Name: "update_time", Kind: validate.KindNumber, Optional: true},
			{Name: "mapping", Kind: validate.KindObject},
		},
	}
}

var (
	nodeSchema = validate.Schema{Fields: []validate.Field{
		{Name: "message", Kind: validate.KindObject, Optional: true},
		{Name: "parent", Kind: validate.KindString, Optional: true},
		{Name: "children", Kind: validate.KindArray, Optional: true},
	}}
	messageSchema = validate.Schema{Fields: []validate.Field{
		{Name: "id", Kind: validate.KindString},
		{Name: "author", Kind: validate.KindObject},
		{Name: "create_time", Kind: validate.KindNumber, Nullable: true},
		{Name: "content", Kind: validate.KindObject},
		{Name: "metadata", Kind: validate.KindObject, Optional: true},
	}}
	authorSchema = validate.Schema{Fields: []validate.Field{
		{Name: "role", Kind: validate.KindString},
		{Name: "name", Kind: validate.KindString, Optional: true},
	}}
	contentSchema = validate.Schema{Fields: []validate.Field{
		{Name: "content_type", Kind: validate.KindString},
		{Name: "parts", Kind: validate.KindArray, Optional: true},
		{Name: "text", Kind: validate.KindString, Optional: true},
	}}
)

// checkMapping verifies the shape of every node and message before the
// record is bound to typed structs.
func checkMapping(raw map[string]any) error {
	id := validate.RecordID(raw, []string{"id", "conversation_id"}, "")
	mapping, _ := raw["mapping"].(map[string]any)
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		label := fmt.Sprintf("mapping[%q]", key)
		n, err := validate.CheckNested(mapping[key], id, label, nodeSchema)
		if err != nil {
			return err
		}
		if n["message"] == nil {
			continue
		}
		label += ".message"
		msg, err := validate.CheckNested(n["message"], id, label, messageSchema)
		if err != nil {
			return err
		}
		if _, err := validate.CheckNested(msg["author"], id, label+".author", authorSchema); err != nil {
			return err
		}
		if _, err := validate.CheckNested(msg["content"], id, label+".content", contentSchema); err != nil {
			return err
		}
	}
	return nil
}

type export struct {
	ID               string          `json:"id"`
	ConversationID   string          `json:"conversation_id"`
	Title            string          `json:"title"`
	CreateTime       float64         `json:"create_time"`
	UpdateTime       *float64        `json:"update_time"`
	CurrentNode      string          `json:"current_node"`
	DefaultModelSlug string          `json:"default_model_slug"`
	Mapping          map[string]node `json:"mapping"`
}

type node struct {
	ID       string   `json:"id"`
	Message  *message `json:"message"`
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
}

type message struct {
	ID         string         `json:"id"`
	Author     author         `json:"author"`
	CreateTime *float64       `json:"create_time"`
	Content    content        `json:"content"`
	Metadata   map[string]any `json:"metadata"`
}

type author struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

type content struct {
	ContentType string `json:"content_type"`
	Parts       []any  `json:"parts"`
	Text        string `json:"text"`
}

// Normalize maps one export record to a conversation.
func (Dialect) Normalize(raw map[string]any) (*model.Conversation, error) {
	if err := checkMapping(raw); err != nil {
		return nil, err
	}

	var rec export
	if err := provider.DecodeRecord(raw, "", &rec); err != nil {
		return nil, err
	}

	id := cmp.Or(rec.ID, rec.ConversationID)
	if id == "" {
		return nil, archive.Skip("", archive.CategorySchema, "missing required field(s) [id conversation_id]")
	}

	created, err := epoch(rec.CreateTime)
	if err != nil {
		return nil, archive.Skip(id, archive.CategoryValidation, "create_time: %v", err)
	}
	updated := created
	if rec.UpdateTime != nil {
		if updated, err = epoch(*rec.UpdateTime); err != nil {
			return nil, archive.Skip(id, archive.CategoryValidation, "update_time: %v", err)
		}
	}

	conv := &model.Conversation{
		ID:        id,
		Title:     rec.Title,
		CreatedAt: created,
		UpdatedAt: updated,
		Metadata:  map[string]any{model.MetaProvider: Name},
	}
	if strings.TrimSpace(conv.Title) == "" {
		conv.Title = provider.UntitledConversation
		conv.Metadata[model.MetaTitleInferred] = true
	}
	if rec.CurrentNode != "" {
		conv.Metadata["current_node"] = rec.CurrentNode
	}
	if rec.DefaultModelSlug != "" {
		conv.Metadata["default_model_slug"] = rec.DefaultModelSlug
	}

	g := graph(rec.Mapping)
	for _, key := range g.order() {
		n := rec.Mapping[key]
		if n.Message == nil {
			continue
		}
		m, err := g.message(id, key, n, created)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, nil
}

// epoch converts fractional Unix seconds to UTC.
func epoch(sec float64) (time.Time, error) {
	if sec < 0 || math.IsInf(sec, 0) || math.IsNaN(sec) {
		return time.Time{}, fmt.Errorf("invalid epoch seconds %v", sec)
	}
	whole := math.Floor(sec)
	nanos := math.Round((sec - whole) * 1e9)
	return time.Unix(int64(whole), int64(nanos)).UTC(), nil
}

type graph map[string]node

// messageID is the id a node's message is known by.
func (g graph) messageID(key string) string {
	n := g[key]
	if n.Message != nil && n.Message.ID != "" {
		return n.Message.ID
	}
	return key
}

// parentOf walks up past structural nodes to the nearest ancestor with a
// message. A link to a node absent from the mapping is returned as is so the
// orphan check can report it.
func (g graph) parentOf(n node) string {
	seen := make(map[string]struct{})
	for p := n.Parent; p != nil && *p != ""; {
		key := *p
		anc, ok := g[key]
		if !ok {
			return key
		}
		if anc.Message != nil {
			return g.messageID(key)
		}
		if _, loop := seen[key]; loop {
			return key
		}
		seen[key] = struct{}{}
		p = anc.Parent
	}
	return ""
}

func (g graph) created(key string) float64 {
	if m := g[key].Message; m != nil && m.CreateTime != nil {
		return *m.CreateTime
	}
	return 0
}

func (g graph) byTime(keys []string) {
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Or(cmp.Compare(g.created(a), g.created(b)), strings.Compare(a, b))
	})
}

// order returns node keys depth-first from each root, then any nodes not
// reachable from a root (broken links) by creation time.
func (g graph) order() []string {
	var roots, rest []string
	for key, n := range g {
		if n.Parent == nil || *n.Parent == "" {
			roots = append(roots, key)
		}
	}
	g.byTime(roots)

	out := make([]string, 0, len(g))
	visited := make(map[string]struct{}, len(g))
	stack := make([]string, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[key]; ok {
			continue
		}
		visited[key] = struct{}{}
		out = append(out, key)

		children := g[key].Children
		for i := len(children) - 1; i >= 0; i-- {
			if _, ok := g[children[i]]; ok {
				stack = append(stack, children[i])
			}
		}
	}

	for key := range g {
		if _, ok := visited[key]; !ok {
			rest = append(rest, key)
		}
	}
	g.byTime(rest)
	return append(out, rest...)
}

func (g graph) message(convID, key string, n node, fallback time.Time) (model.Message, error) {
	msg := n.Message
	m := model.Message{
		ID:       g.messageID(key),
		ParentID: g.parentOf(n),
		Metadata: map[string]any{model.MetaOriginalRole: msg.Author.Role},
	}

	switch msg.Author.Role {
	case "user", "assistant", "system":
		m.Role = model.Role(msg.Author.Role)
	case "tool":
		m.Role = model.RoleAssistant
	default:
		return m, archive.Skip(convID, archive.CategoryValidation, "message %q has unknown role %q", m.ID, msg.Author.Role)
	}
	if msg.Author.Name != "" {
		m.Metadata[MetaAuthorName] = msg.Author.Name
	}

	m.Timestamp = fallback
	if msg.CreateTime != nil {
		ts, err := epoch(*msg.CreateTime)
		if err != nil {
			return m, archive.Skip(convID, archive.CategoryValidation, "message %q create_time: %v", m.ID, err)
		}
		m.Timestamp = ts
	} else {
		m.Metadata[model.MetaTimestampInferred] = true
	}

	m.Content, m.Images = render(msg.Content)
	if msg.Content.ContentType != "" {
		m.Metadata[MetaContentType] = msg.Content.ContentType
	}
	if hidden, _ := msg.Metadata["is_visually_hidden_from_conversation"].(bool); hidden {
		m.Metadata[MetaHidden] = true
	}
	if slug, _ := msg.Metadata["model_slug"].(string); slug != "" {
		m.Metadata[MetaModel] = slug
	}
	return m, nil
}

// render joins text parts with newlines and collects asset pointers.
func render(c content) (string, []string) {
	if len(c.Parts) == 0 {
		return c.Text, nil
	}

	texts := make([]string, 0, len(c.Parts))
	var images []string
	for _, part := range c.Parts {
		switch v := part.(type) {
		case string:
			texts = append(texts, v)
		case map[string]any:
			if ptr, _ := v["asset_pointer"].(string); ptr != "" {
				images = append(images, ptr)
			} else if text, _ := v["text"].(string); text != "" {
				texts = append(texts, text)
			}
		}
	}
	return strings.Join(texts, "\n"), images
}
