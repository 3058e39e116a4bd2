package claude

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aucontraire/echomine-sub001/internal/search"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
	"github.com/aucontraire/echomine-sub001/pkg/provider"
)

const (
	fixture   = "testdata/conversations.json"
	algoID    = "5f1c2e8a-3b7d-4c21-9e0f-6a2b4d8c1e01"
	untitled  = "6e2d3f9b-4c8e-4d32-8f1a-7b3c5e9d2f02"
	naiveID   = "7f3e4a0c-5d9f-4e43-9a2b-8c4d6f0e3a03"
	systemID  = "8a4f5b1d-6e0a-4f54-8b3c-9d5e7a1f4b04"
	emptyConv = "9b5a6c2e-7f1b-4a65-9c4d-0e6f8b2a5c05"
)

func streamFixture(t *testing.T) (map[string]*model.Conversation, []provider.SkipEvent) {
	t.Helper()
	convs := make(map[string]*model.Conversation)
	var skips []provider.SkipEvent
	for c, err := range New().Stream(context.Background(), archive.File(fixture), provider.StreamOptions{
		OnSkip: func(e provider.SkipEvent) { skips = append(skips, e) },
	}) {
		require.NoError(t, err)
		convs[c.ID] = c
	}
	return convs, skips
}

func TestStream_Fixture(t *testing.T) {
	convs, skips := streamFixture(t)
	assert.Len(t, convs, 2)

	require.Len(t, skips, 3)
	assert.Equal(t, naiveID, skips[0].ID)
	assert.Contains(t, skips[0].Reason, "naive timestamp")
	assert.Equal(t, systemID, skips[1].ID)
	assert.Contains(t, skips[1].Reason, `unknown sender "system"`)
	assert.Equal(t, emptyConv, skips[2].ID)
	for _, s := range skips {
		assert.Equal(t, archive.CategoryValidation, s.Category)
	}
}

func TestNormalize_Conversation(t *testing.T) {
	convs, _ := streamFixture(t)
	c := convs[algoID]
	require.NotNil(t, c)

	assert.Equal(t, "Algo Insights", c.Title)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), c.CreatedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 123456000, time.UTC), c.UpdatedAt)
	assert.Equal(t, Name, c.Metadata[model.MetaProvider])
	assert.Equal(t, "Quicksort partition schemes", c.Metadata[MetaSummary])

	require.Len(t, c.Messages, 3)
	first, second, third := c.Messages[0], c.Messages[1], c.Messages[2]

	assert.True(t, first.IsRoot())
	assert.Equal(t, model.RoleUser, first.Role)
	assert.Equal(t, "human", first.Metadata[model.MetaOriginalRole])

	assert.Equal(t, first.ID, second.ParentID)
	assert.Equal(t, model.RoleAssistant, second.Role)
	assert.Equal(t, "Pick a pivot.\nThen partition around it.", second.Content)
	assert.Equal(t, []string{"repl"}, second.Metadata[MetaToolCalls])

	assert.Equal(t, second.ID, third.ParentID)
	assert.Equal(t, "Here are my notes.", third.Content)
	assert.Equal(t, []string{"notes.txt", "diagram.png"}, third.Images)

	thread := c.Thread(third.ID)
	require.Len(t, thread, 3)
	assert.Equal(t, first.ID, thread[0].ID)
}

func TestNormalize_LinearChainAndUntitled(t *testing.T) {
	convs, _ := streamFixture(t)
	c := convs[untitled]
	require.NotNil(t, c)

	assert.Equal(t, provider.UntitledConversation, c.Title)
	assert.Equal(t, true, c.Metadata[model.MetaTitleInferred])

	require.Len(t, c.Messages, 3)
	assert.Equal(t, "", c.Messages[0].ParentID)
	assert.Equal(t, "b1", c.Messages[1].ParentID)
	assert.Equal(t, "b2", c.Messages[2].ParentID)

	// null created_at inherits the conversation's
	assert.Equal(t, c.CreatedAt, c.Messages[1].Timestamp)
	assert.Equal(t, true, c.Messages[1].Metadata[model.MetaTimestampInferred])
	assert.Len(t, c.AllThreads(), 1)
}

func TestIsRoot(t *testing.T) {
	assert.True(t, isRoot(""))
	assert.True(t, isRoot("00000000-0000-4000-8000-000000000000"))
	assert.True(t, isRoot("00000000-0000-0000-0000-000000000000"))
	assert.False(t, isRoot("a0000000-0000-4000-8000-000000000001"))
	assert.False(t, isRoot("not-a-uuid"))
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr string
	}{
		{in: "2024-03-01T10:00:00Z", want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2024-03-01T10:00:00.5-05:00", want: time.Date(2024, 3, 1, 15, 0, 0, 500_000_000, time.UTC)},
		{in: "2024-03-01T10:00:00", wantErr: "naive timestamp"},
		{in: "yesterday", wantErr: "cannot parse"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_DanglingParent(t *testing.T) {
	raw := `[{"uuid":"c","name":"x","created_at":"2024-03-01T10:00:00Z","chat_messages":[
		{"uuid":"m1","text":"root","sender":"human","created_at":null,"parent_message_uuid":"00000000-0000-4000-8000-000000000000"},
		{"uuid":"m2","text":"ok","sender":"assistant","created_at":null,"parent_message_uuid":"m1"},
		{"uuid":"m3","text":"orphan","sender":"human","created_at":null,"parent_message_uuid":"m9"}
	]}]`

	var skips []provider.SkipEvent
	var got []*model.Conversation
	for c, err := range New().Stream(context.Background(), archive.Bytes("x.json", []byte(raw)), provider.StreamOptions{
		OnSkip: func(e provider.SkipEvent) { skips = append(skips, e) },
	}) {
		require.NoError(t, err)
		got = append(got, c)
	}
	require.Len(t, got, 1)
	assert.Len(t, got[0].Messages, 2)
	require.Len(t, skips, 1)
	assert.Equal(t, "c/m3", skips[0].ID)
}

func TestSearch_RoleFilter(t *testing.T) {
	var got []*model.SearchResult
	for r, err := range New().Search(context.Background(), archive.File(fixture), search.Query{
		Keywords: []string{"partition"},
		Role:     model.RoleAssistant,
	}, provider.StreamOptions{}) {
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a0000000-0000-4000-8000-000000000002"}, got[0].MatchedMessageIDs)
}

func TestNormalize_MessageMissingFields(t *testing.T) {
	record := func(msg string) map[string]any {
		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(`{"uuid":"c","name":"x","created_at":"2024-03-01T10:00:00Z","chat_messages":[`+msg+`]}`), &raw))
		return raw
	}

	tests := []struct {
		name    string
		msg     string
		wantCat archive.Category
		wantIn  string
	}{
		{name: "missing uuid", msg: `{"text":"hi","sender":"human","created_at":null}`, wantCat: archive.CategorySchema, wantIn: "uuid"},
		{name: "missing sender", msg: `{"uuid":"m1","text":"hi","created_at":null}`, wantCat: archive.CategorySchema, wantIn: "sender"},
		{name: "missing created_at", msg: `{"uuid":"m1","text":"hi","sender":"human"}`, wantCat: archive.CategorySchema, wantIn: "created_at"},
		{name: "missing text and content", msg: `{"uuid":"m1","sender":"human","created_at":null}`, wantCat: archive.CategorySchema, wantIn: "text|content"},
		{name: "sender wrong kind", msg: `{"uuid":"m1","text":"hi","sender":7,"created_at":null}`, wantCat: archive.CategorySyntax, wantIn: "sender"},
		{name: "message not an object", msg: `"m1"`, wantCat: archive.CategorySyntax, wantIn: "chat_messages[0]"},
		{name: "unknown sender", msg: `{"uuid":"m1","text":"hi","sender":"system","created_at":null}`, wantCat: archive.CategoryValidation, wantIn: "unknown sender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dialect{}.Normalize(record(tt.msg))
			disp, skip := archive.Classify(err)
			require.Equal(t, archive.DispositionSkip, disp, "error: %v", err)
			assert.Equal(t, tt.wantCat, skip.Category, "reason: %s", skip.Reason)
			assert.Equal(t, "c", skip.ID)
			assert.Contains(t, skip.Reason, tt.wantIn)
		})
	}

	t.Run("empty text is kept", func(t *testing.T) {
		c, err := Dialect{}.Normalize(record(`{"uuid":"m1","text":"","sender":"human","created_at":"2024-03-01T10:00:01Z"}`))
		require.NoError(t, err)
		require.Len(t, c.Messages, 1)
		assert.Equal(t, "", c.Messages[0].Content)
		assert.Nil(t, c.Messages[0].Metadata[model.MetaTimestampInferred])
	})
}
