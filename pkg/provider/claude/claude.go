// Package claude reads claude.ai data exports (conversations.json).
package claude

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aucontraire/echomine-sub001/internal/validate"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
	"github.com/aucontraire/echomine-sub001/pkg/provider"
)

// Name is the provider label.
const Name = "claude"

// Metadata keys specific to this export.
const (
	MetaSummary   = "summary"
	MetaToolCalls = "tool_calls"
)

// rootParent is the parent_message_uuid of the first message of a thread.
var rootParent = uuid.MustParse("00000000-0000-4000-8000-000000000000")

// New returns a provider for claude.ai exports.
func New(opts ...provider.Option) *provider.Adapter {
	return provider.New(Dialect{}, opts...)
}

// Dialect implements provider.Dialect for claude.ai exports.
type Dialect struct{}

var _ provider.Dialect = Dialect{}

func (Dialect) Name() string { return Name }

func (Dialect) SupportedVersions() []string { return []string{"1"} }

func (Dialect) Schema() validate.Schema {
	return validate.Schema{
		IDKeys: []string{"uuid"},
		Fields: []validate.Field{
			{Name: "uuid", Kind: validate.KindString},
			{Name: "name", Kind: validate.KindString, Optional: true},
			{Name: "summary", Kind: validate.KindString, Optional: true},
			{Name: "created_at", Kind: validate.KindString},
			{Name: "updated_at", Kind: validate.KindString, Optional: true},
			{Name: "chat_messages", Kind: validate.KindArray},
		},
	}
}

var messageSchema = validate.Schema{
	Fields: []validate.Field{
		{Name: "uuid", Kind: validate.KindString},
		{Name: "sender", Kind: validate.KindString},
		{Name: "created_at", Kind: validate.KindString, Nullable: true},
		{Name: "text", Kind: validate.KindString, Optional: true},
		{Name: "content", Kind: validate.KindArray, Optional: true},
		{Name: "parent_message_uuid", Kind: validate.KindString, Optional: true},
		{Name: "attachments", Kind: validate.KindArray, Optional: true},
		{Name: "files", Kind: validate.KindArray, Optional: true},
	},
	AnyOf: [][]string{{"text", "content"}},
}

type export struct {
	UUID         string        `json:"uuid"`
	Name         string        `json:"name"`
	Summary      string        `json:"summary"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
	ChatMessages []chatMessage `json:"chat_messages"`
}

type chatMessage struct {
	UUID              string         `json:"uuid"`
	Text              string         `json:"text"`
	Content           []contentBlock `json:"content"`
	Sender            string         `json:"sender"`
	CreatedAt         string         `json:"created_at"`
	ParentMessageUUID *string        `json:"parent_message_uuid"`
	Attachments       []attachment   `json:"attachments"`
	Files             []attachment   `json:"files"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

type attachment struct {
	FileName string `json:"file_name"`
	FileUUID string `json:"file_uuid"`
}

// Normalize maps one export record to a conversation.
func (Dialect) Normalize(raw map[string]any) (*model.Conversation, error) {
	owner := validate.RecordID(raw, []string{"uuid"}, "")
	msgs, _ := raw["chat_messages"].([]any)
	for i, v := range msgs {
		if _, err := validate.CheckNested(v, owner, fmt.Sprintf("chat_messages[%d]", i), messageSchema); err != nil {
			return nil, err
		}
	}

	var rec export
	if err := provider.DecodeRecord(raw, "", &rec); err != nil {
		return nil, err
	}
	id := rec.UUID

	created, err := parseTime(rec.CreatedAt)
	if err != nil {
		return nil, archive.Skip(id, archive.CategoryValidation, "created_at: %v", err)
	}
	updated := created
	if rec.UpdatedAt != "" {
		if updated, err = parseTime(rec.UpdatedAt); err != nil {
			return nil, archive.Skip(id, archive.CategoryValidation, "updated_at: %v", err)
		}
	}

	conv := &model.Conversation{
		ID:        id,
		Title:     rec.Name,
		CreatedAt: created,
		UpdatedAt: updated,
		Metadata:  map[string]any{model.MetaProvider: Name},
	}
	if strings.TrimSpace(conv.Title) == "" {
		conv.Title = provider.UntitledConversation
		conv.Metadata[model.MetaTitleInferred] = true
	}
	if rec.Summary != "" {
		conv.Metadata[MetaSummary] = rec.Summary
	}

	// Older exports carry no parent links; their messages form one thread.
	linear := true
	for _, m := range rec.ChatMessages {
		if m.ParentMessageUUID != nil {
			linear = false
			break
		}
	}

	conv.Messages = make([]model.Message, 0, len(rec.ChatMessages))
	for i, cm := range rec.ChatMessages {
		m, err := message(id, cm, created)
		if err != nil {
			return nil, err
		}
		switch {
		case linear && i > 0:
			m.ParentID = rec.ChatMessages[i-1].UUID
		case !linear && cm.ParentMessageUUID != nil && !isRoot(*cm.ParentMessageUUID):
			m.ParentID = *cm.ParentMessageUUID
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, nil
}

func isRoot(parent string) bool {
	if parent == "" {
		return true
	}
	id, err := uuid.Parse(parent)
	return err == nil && (id == rootParent || id == uuid.Nil)
}

func message(convID string, cm chatMessage, fallback time.Time) (model.Message, error) {
	m := model.Message{
		ID:       cm.UUID,
		Metadata: map[string]any{model.MetaOriginalRole: cm.Sender},
	}

	switch cm.Sender {
	case "human":
		m.Role = model.RoleUser
	case "assistant":
		m.Role = model.RoleAssistant
	default:
		return m, archive.Skip(convID, archive.CategoryValidation, "message %q has unknown sender %q", cm.UUID, cm.Sender)
	}

	// A null created_at inherits the conversation timestamp.
	m.Timestamp = fallback
	if cm.CreatedAt == "" {
		m.Metadata[model.MetaTimestampInferred] = true
	} else {
		ts, err := parseTime(cm.CreatedAt)
		if err != nil {
			return m, archive.Skip(convID, archive.CategoryValidation, "message %q created_at: %v", cm.UUID, err)
		}
		m.Timestamp = ts
	}

	var tools []string
	m.Content, tools = extractContent(cm)
	if len(tools) > 0 {
		m.Metadata[MetaToolCalls] = tools
	}

	for _, a := range slices.Concat(cm.Attachments, cm.Files) {
		if ref := a.FileName; ref != "" {
			m.Images = append(m.Images, ref)
		} else if a.FileUUID != "" {
			m.Images = append(m.Images, a.FileUUID)
		}
	}
	return m, nil
}

// extractContent prefers the flat text field and falls back to the text
// blocks of the structured content.
func extractContent(cm chatMessage) (string, []string) {
	var texts, tools []string
	for _, block := range cm.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			if block.Name != "" {
				tools = append(tools, block.Name)
			}
		}
	}
	if cm.Text != "" {
		return cm.Text, tools
	}
	return strings.Join(texts, "\n"), tools
}

// naiveLayout matches ISO timestamps without a UTC offset.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// parseTime accepts RFC 3339 timestamps and normalizes them to UTC.
// Timestamps without an offset are ambiguous and rejected.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	if _, naiveErr := time.Parse(naiveLayout, s); naiveErr == nil {
		return time.Time{}, fmt.Errorf("naive timestamp %q has no UTC offset", s)
	}
	return time.Time{}, err
}
