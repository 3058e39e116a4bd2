// Package provider turns export archives into streams of canonical
// conversations and ranked search results.
//
// Each export dialect (OpenAI, Claude) implements Dialect: a record schema
// plus a Normalize step from the loosely typed record to a model.Conversation.
// Adapter runs the shared pipeline around a Dialect:
//
//	open source -> decode record -> check record shape -> normalize
//	            -> validate conversation -> prune orphaned messages -> yield
//
// Streams are pull-based: nothing is read until the caller ranges over the
// sequence, and breaking out of the loop closes the archive.
//
//	p := openai.New()
//	for conv, err := range p.Stream(ctx, archive.File(path), provider.StreamOptions{}) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(conv.Title)
//	}
//
// Data-quality issues never end a stream. They are logged, counted, and
// reported through StreamOptions.OnSkip. Operational errors are yielded once
// and end the sequence.
package provider

import (
	"context"
	"iter"

	"github.com/aucontraire/echomine-sub001/internal/search"
	"github.com/aucontraire/echomine-sub001/internal/validate"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

// Provider reads one export dialect.
type Provider interface {
	// Stream yields every valid conversation in archive order.
	Stream(ctx context.Context, src archive.Source, opts StreamOptions) iter.Seq2[*model.Conversation, error]

	// Search yields ranked results for q after a full pass over src.
	Search(ctx context.Context, src archive.Source, q search.Query, opts StreamOptions) iter.Seq2[*model.SearchResult, error]

	// GetByID returns the conversation with id, stopping at the first match.
	GetByID(ctx context.Context, src archive.Source, id string) (*model.Conversation, error)
}

// StreamOptions carries per-call callbacks. Callbacks run synchronously on
// the consuming goroutine and cannot alter the stream.
type StreamOptions struct {
	// OnProgress receives the number of records decoded so far, every
	// ProgressEvery records and once at the end.
	OnProgress func(decoded int)

	// OnSkip receives every skipped record and pruned message.
	OnSkip func(SkipEvent)

	// ProgressEvery overrides the adapter's progress interval.
	ProgressEvery int
}

// SkipEvent describes one skipped record or pruned message.
type SkipEvent struct {
	// ID is the conversation id, "<conversation>/<message>" for a pruned
	// message, or "record#N" when the record carries no usable id.
	ID       string
	Category archive.Category
	Reason   string

	// Record is the 1-based position of the record in the archive.
	Record int
}

// Dialect describes one provider's export format.
type Dialect interface {
	// Name is the provider label used in logs, metrics, and the CLI.
	Name() string

	// Schema describes the top-level record shape.
	Schema() validate.Schema

	// SupportedVersions lists the envelope schema versions understood.
	SupportedVersions() []string

	// Normalize maps a record that passed Schema to a conversation. It
	// returns *archive.SkipError for data-quality problems; any other
	// error stops the stream.
	Normalize(raw map[string]any) (*model.Conversation, error)
}
