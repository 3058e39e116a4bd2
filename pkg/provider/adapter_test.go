package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/aucontraire/echomine-sub001/internal/logging"
	"github.com/aucontraire/echomine-sub001/internal/metrics"
	"github.com/aucontraire/echomine-sub001/internal/search"
	"github.com/aucontraire/echomine-sub001/internal/telemetry"
	"github.com/aucontraire/echomine-sub001/internal/validate"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

// fixtureDialect is a minimal export format:
//
//	{"id", "title", "created", "messages": [{"id", "role", "text", "parent"}]}
type fixtureDialect struct {
	failOn string
}

func (fixtureDialect) Name() string { return "fixture" }

func (fixtureDialect) Schema() validate.Schema {
	return validate.Schema{
		IDKeys: []string{"id"},
		Fields: []validate.Field{
			{Name: "id", Kind: validate.KindString},
			{Name: "title", Kind: validate.KindString},
			{Name: "created", Kind: validate.KindString},
			{Name: "messages", Kind: validate.KindArray},
		},
	}
}

func (fixtureDialect) SupportedVersions() []string { return []string{"1"} }

func (d fixtureDialect) Normalize(raw map[string]any) (*model.Conversation, error) {
	var rec struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Created  string `json:"created"`
		Messages []struct {
			ID     string `json:"id"`
			Role   string `json:"role"`
			Text   string `json:"text"`
			Parent string `json:"parent"`
		} `json:"messages"`
	}
	if err := DecodeRecord(raw, "", &rec); err != nil {
		return nil, err
	}
	if rec.ID == d.failOn {
		return nil, errors.New("dialect exploded")
	}
	created, err := time.Parse(time.RFC3339, rec.Created)
	if err != nil {
		return nil, archive.Skip(rec.ID, archive.CategoryValidation, "created: %v", err)
	}
	created = created.UTC()

	c := &model.Conversation{ID: rec.ID, Title: rec.Title, CreatedAt: created, UpdatedAt: created}
	for _, m := range rec.Messages {
		c.Messages = append(c.Messages, model.Message{
			ID:        m.ID,
			Role:      model.Role(m.Role),
			Content:   m.Text,
			Timestamp: created,
			ParentID:  m.Parent,
		})
	}
	return c, nil
}

func record(id, title string, msgs ...string) string {
	var parts []string
	parent := ""
	for i, text := range msgs {
		mid := fmt.Sprintf("%s-m%d", id, i)
		parts = append(parts, fmt.Sprintf(`{"id":%q,"role":"user","text":%q,"parent":%q}`, mid, text, parent))
		parent = mid
	}
	return fmt.Sprintf(`{"id":%q,"title":%q,"created":"2024-03-01T10:00:00Z","messages":[%s]}`, id, title, strings.Join(parts, ","))
}

func archiveOf(records ...string) archive.Source {
	return archive.Bytes("fixture.json", []byte("["+strings.Join(records, ",")+"]"))
}

type countingSource struct {
	archive.Source
	opened int
	closed int
}

func (s *countingSource) Open() (io.ReadCloser, error) {
	rc, err := s.Source.Open()
	if err != nil {
		return nil, err
	}
	s.opened++
	return closeCounter{ReadCloser: rc, n: &s.closed}, nil
}

type closeCounter struct {
	io.ReadCloser
	n *int
}

func (c closeCounter) Close() error {
	*c.n++
	return c.ReadCloser.Close()
}

func collect(t *testing.T, seq func(func(*model.Conversation, error) bool)) ([]*model.Conversation, error) {
	t.Helper()
	var out []*model.Conversation
	for c, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func TestStream_GracefulDegradation(t *testing.T) {
	tl := logging.NewTestLogger()
	a := New(fixtureDialect{}, WithLogger(tl.Logger))

	syntaxBefore := testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("fixture", "syntax"))

	src := archiveOf(
		record("c1", "first", "hello"),
		`"not an object"`,
		`{"id":"c2","created":"2024-03-01T10:00:00Z","messages":[]}`,
		record("c3", "third", "hi", "there"),
		`{"id":"c4","title":"bad role","created":"2024-03-01T10:00:00Z","messages":[{"id":"x","role":"robot"}]}`,
		`{"id":"c5","title":"nested","created":"2024-03-01T10:00:00Z","messages":[{"id":7}]}`,
		record("c6", "sixth", "bye"),
	)

	var skips []SkipEvent
	convs, err := collect(t, a.Stream(context.Background(), src, StreamOptions{
		OnSkip: func(e SkipEvent) { skips = append(skips, e) },
	}))
	require.NoError(t, err)

	var ids []string
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c1", "c3", "c6"}, ids)

	require.Len(t, skips, 4)
	assert.Equal(t, SkipEvent{ID: "record#2", Category: archive.CategorySyntax, Reason: skips[0].Reason, Record: 2}, skips[0])
	assert.Equal(t, "c2", skips[1].ID)
	assert.Equal(t, archive.CategorySchema, skips[1].Category)
	assert.Equal(t, "c4", skips[2].ID)
	assert.Equal(t, archive.CategoryValidation, skips[2].Category)
	assert.Equal(t, "c5", skips[3].ID)
	assert.Equal(t, archive.CategorySyntax, skips[3].Category)

	warnings := tl.FilterMessage("skipping record").All()
	assert.Len(t, warnings, 4)
	tl.AssertField(t, "skipping record", "category", "syntax")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "stream failed")

	assert.Equal(t, syntaxBefore+2, testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("fixture", "syntax")))
}

func TestStream_DanglingParentPrunesBranch(t *testing.T) {
	a := New(fixtureDialect{})
	src := archiveOf(`{"id":"c1","title":"branches","created":"2024-03-01T10:00:00Z","messages":[
		{"id":"m1","role":"user","text":"root"},
		{"id":"m2","role":"assistant","text":"reply","parent":"m1"},
		{"id":"m3","role":"user","text":"lost","parent":"ghost"},
		{"id":"m4","role":"assistant","text":"lost too","parent":"m3"}
	]}`)

	var skips []SkipEvent
	convs, err := collect(t, a.Stream(context.Background(), src, StreamOptions{
		OnSkip: func(e SkipEvent) { skips = append(skips, e) },
	}))
	require.NoError(t, err)
	require.Len(t, convs, 1)

	var kept []string
	for _, m := range convs[0].Messages {
		kept = append(kept, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2"}, kept)

	require.Len(t, skips, 2)
	assert.Equal(t, "c1/m3", skips[0].ID)
	assert.Equal(t, "c1/m4", skips[1].ID)
	for _, s := range skips {
		assert.Equal(t, archive.CategoryValidation, s.Category)
	}
}

func TestStream_EarlyBreakClosesArchive(t *testing.T) {
	a := New(fixtureDialect{})
	src := &countingSource{Source: archiveOf(record("c1", "a", "x"), record("c2", "b", "y"), record("c3", "c", "z"))}

	n := 0
	for _, err := range a.Stream(context.Background(), src, StreamOptions{}) {
		require.NoError(t, err)
		n++
		if n == 1 {
			assert.Equal(t, 0, src.closed)
			break
		}
	}
	assert.Equal(t, 1, src.opened)
	assert.Equal(t, 1, src.closed)
}

func TestStream_ContextCancellation(t *testing.T) {
	a := New(fixtureDialect{})
	src := archiveOf(record("c1", "a", "x"), record("c2", "b", "y"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	var streamErr error
	for c, err := range a.Stream(ctx, src, StreamOptions{}) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, c.ID)
		cancel()
	}
	assert.Equal(t, []string{"c1"}, got)
	assert.ErrorIs(t, streamErr, context.Canceled)
	assert.Equal(t, archive.DispositionFail, func() archive.Disposition { d, _ := archive.Classify(streamErr); return d }())
}

func TestStream_Progress(t *testing.T) {
	a := New(fixtureDialect{}, WithProgressEvery(100))
	src := archiveOf(
		record("c1", "a", "x"), record("c2", "b", "y"), record("c3", "c", "z"),
		record("c4", "d", "w"), record("c5", "e", "v"),
	)

	var progress []int
	_, err := collect(t, a.Stream(context.Background(), src, StreamOptions{
		ProgressEvery: 2,
		OnProgress:    func(n int) { progress = append(progress, n) },
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 5}, progress)
}

func TestStream_OperationalErrors(t *testing.T) {
	a := New(fixtureDialect{})

	t.Run("missing archive", func(t *testing.T) {
		_, err := collect(t, a.Stream(context.Background(), archive.File(filepath.Join(t.TempDir(), "nope.json")), StreamOptions{}))
		assert.ErrorIs(t, err, archive.ErrArchiveNotFound)
	})

	t.Run("truncated archive yields what came before", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("["+record("c1", "a", "x")+`,{"id":"c2","ti`), 0o600))

		convs, err := collect(t, a.Stream(context.Background(), archive.File(path), StreamOptions{}))
		require.Len(t, convs, 1)
		assert.ErrorIs(t, err, archive.ErrMalformedArchive)
	})

	t.Run("unsupported version", func(t *testing.T) {
		src := archive.Bytes("v9.json", []byte(`{"schema_version":"9","conversations":[`+record("c1", "a", "x")+`]}`))
		convs, err := collect(t, a.Stream(context.Background(), src, StreamOptions{}))
		assert.Empty(t, convs)
		assert.ErrorIs(t, err, archive.ErrUnsupportedVersion)
	})

	t.Run("supported envelope", func(t *testing.T) {
		src := archive.Bytes("v1.json", []byte(`{"schema_version":"1","conversations":[`+record("c1", "a", "x")+`]}`))
		convs, err := collect(t, a.Stream(context.Background(), src, StreamOptions{}))
		require.NoError(t, err)
		assert.Len(t, convs, 1)
	})

	t.Run("dialect failure is not a skip", func(t *testing.T) {
		tl := logging.NewTestLogger()
		b := New(fixtureDialect{failOn: "c2"}, WithLogger(tl.Logger))
		convs, err := collect(t, b.Stream(context.Background(), archiveOf(record("c1", "a", "x"), record("c2", "b", "y")), StreamOptions{}))
		assert.Len(t, convs, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "record 2")
		tl.AssertLogged(t, zapcore.ErrorLevel, "stream failed")
	})
}

func TestStream_Span(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	a := New(fixtureDialect{}, WithTracer(tt.Tracer("test")))

	_, err := collect(t, a.Stream(context.Background(), archiveOf(record("c1", "a", "x"), `42`, record("c2", "b", "y")), StreamOptions{}))
	require.NoError(t, err)

	tt.AssertSpanExists(t, "provider.stream")
	tt.AssertSpanAttribute(t, "provider.stream", "provider", "fixture")
	tt.AssertSpanAttribute(t, "provider.stream", "records", int64(3))
	tt.AssertSpanAttribute(t, "provider.stream", "conversations", int64(2))
	tt.AssertSpanAttribute(t, "provider.stream", "skipped", int64(1))
}

func TestSearch(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	a := New(fixtureDialect{}, WithTracer(tt.Tracer("test")))
	src := archiveOf(
		record("c1", "Go notes", "goroutines and channels"),
		record("c2", "Cooking", "pasta recipes"),
		record("c3", "More Go", "channels everywhere", "channels again"),
	)

	var got []*model.SearchResult
	for r, err := range a.Search(context.Background(), src, search.Query{Keywords: []string{"channels"}}, StreamOptions{}) {
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Len(t, got, 2)
	for _, r := range got {
		assert.NotEqual(t, "c2", r.Conversation.ID)
		assert.Greater(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}

	tt.AssertSpanExists(t, "provider.search")
	tt.AssertSpanAttribute(t, "provider.search", "results", int64(2))
	tt.AssertSpanAttribute(t, "provider.search", "scanned", int64(3))
}

func TestSearch_InvalidQueryFailsBeforeReading(t *testing.T) {
	a := New(fixtureDialect{})
	src := &countingSource{Source: archiveOf(record("c1", "a", "x"))}

	var errs []error
	for r, err := range a.Search(context.Background(), src, search.Query{Limit: -1}, StreamOptions{}) {
		assert.Nil(t, r)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], archive.ErrInvalidQuery)
	assert.Equal(t, 0, src.opened)
}

func TestSearch_OperationalErrorHasNoPartialResults(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	a := New(fixtureDialect{}, WithTracer(tt.Tracer("test")))
	src := archive.Bytes("broken.json", []byte("["+record("c1", "a", "match")+`,{`))

	var results, errs int
	for r, err := range a.Search(context.Background(), src, search.Query{Keywords: []string{"match"}}, StreamOptions{}) {
		if err != nil {
			errs++
			assert.ErrorIs(t, err, archive.ErrMalformedArchive)
			continue
		}
		if r != nil {
			results++
		}
	}
	assert.Equal(t, 0, results)
	assert.Equal(t, 1, errs)
	tt.AssertSpanError(t, "provider.search")
	tt.AssertSpanError(t, "provider.stream")
}

func TestGetByID(t *testing.T) {
	a := New(fixtureDialect{})

	t.Run("stops at first match", func(t *testing.T) {
		// The trailing garbage is never reached.
		src := &countingSource{Source: archive.Bytes("x.json", []byte("["+record("c1", "a", "x")+","+record("c2", "b", "y")+`,{{{`))}
		conv, err := a.GetByID(context.Background(), src, "c1")
		require.NoError(t, err)
		assert.Equal(t, "a", conv.Title)
		assert.Equal(t, 1, src.closed)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := a.GetByID(context.Background(), archiveOf(record("c1", "a", "x")), "zzz")
		assert.ErrorIs(t, err, archive.ErrNotFound)
		var nf *archive.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "conversation", nf.Kind)
		assert.Equal(t, "zzz", nf.Name)
	})

	t.Run("operational error wins", func(t *testing.T) {
		_, err := a.GetByID(context.Background(), archive.Bytes("x.json", []byte(`[{`)), "c1")
		assert.ErrorIs(t, err, archive.ErrMalformedArchive)
	})
}
