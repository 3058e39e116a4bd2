package provider

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aucontraire/echomine-sub001/internal/decoder"
	"github.com/aucontraire/echomine-sub001/internal/logging"
	"github.com/aucontraire/echomine-sub001/internal/metrics"
	"github.com/aucontraire/echomine-sub001/internal/search"
	"github.com/aucontraire/echomine-sub001/internal/validate"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

const instrumentationName = "github.com/aucontraire/echomine-sub001/pkg/provider"

// DefaultProgressEvery is the default progress callback interval.
const DefaultProgressEvery = 1000

// Adapter implements Provider for a Dialect. It holds no per-scan state and
// is safe for concurrent use; every scan opens its own reader.
type Adapter struct {
	dialect       Dialect
	logger        *logging.Logger
	tracer        trace.Tracer
	metrics       *metrics.Metrics
	engine        *search.Engine
	progressEvery int
}

var _ Provider = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Adapter) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithSearchParams sets the BM25 and snippet parameters.
func WithSearchParams(p search.Params) Option {
	return func(a *Adapter) { a.engine = search.NewEngine(p) }
}

// WithProgressEvery sets the default progress interval.
func WithProgressEvery(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.progressEvery = n
		}
	}
}

// New creates an Adapter for d.
func New(d Dialect, opts ...Option) *Adapter {
	a := &Adapter{
		dialect:       d,
		logger:        logging.Nop(),
		tracer:        otel.Tracer(instrumentationName),
		engine:        search.NewEngine(search.DefaultParams()),
		progressEvery: DefaultProgressEvery,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named(d.Name())
	a.metrics = metrics.New(d.Name(), a.logger.Underlying())
	return a
}

// Name returns the dialect name.
func (a *Adapter) Name() string { return a.dialect.Name() }

// counts tracks one scan.
type counts struct {
	decoded int
	yielded int
	skipped int
	pruned  int
}

func (n counts) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("records", n.decoded),
		attribute.Int("conversations", n.yielded),
		attribute.Int("skipped", n.skipped),
		attribute.Int("pruned_messages", n.pruned),
	}
}

// Stream yields every valid conversation of src in archive order.
func (a *Adapter) Stream(ctx context.Context, src archive.Source, opts StreamOptions) iter.Seq2[*model.Conversation, error] {
	return func(yield func(*model.Conversation, error) bool) {
		base := ctx
		if logging.OperationFromContext(base) == "" {
			base = logging.WithOperation(base, "stream")
		}
		ctx, span := a.tracer.Start(logging.WithArchive(base, src.Name(), a.Name()), "provider.stream",
			trace.WithAttributes(
				attribute.String("provider", a.Name()),
				attribute.String("archive", src.Name()),
			),
		)
		defer span.End()

		var n counts
		err := a.run(ctx, src, opts, &n, func(c *model.Conversation) bool {
			return yield(c, nil)
		})
		span.SetAttributes(n.attributes()...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.logger.Error(ctx, "stream failed", zap.Error(err), zap.Int("records", n.decoded))
			yield(nil, err)
			return
		}
		a.logger.Debug(ctx, "stream finished",
			zap.Int("records", n.decoded),
			zap.Int("conversations", n.yielded),
			zap.Int("skipped", n.skipped),
		)
	}
}

// run drives the pipeline. It returns nil when the archive is exhausted or
// the consumer stops early.
func (a *Adapter) run(ctx context.Context, src archive.Source, opts StreamOptions, n *counts, yield func(*model.Conversation) bool) error {
	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec, err := decoder.New(rc, decoder.Options{
		Archive:           src.Name(),
		SupportedVersions: a.dialect.SupportedVersions(),
	})
	if err != nil {
		return err
	}
	if v := dec.Version(); v != "" {
		a.logger.Debug(ctx, "archive envelope", zap.String("schema_version", v))
	}

	every := opts.ProgressEvery
	if every <= 0 {
		every = a.progressEvery
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		n.decoded++
		a.metrics.RecordDecoded(ctx)
		a.logger.Trace(ctx, "record decoded", zap.Int("record", dec.Index()), zap.Int64("offset", dec.Offset()))
		if opts.OnProgress != nil && n.decoded%every == 0 {
			opts.OnProgress(n.decoded)
		}

		conv, dropped, err := a.normalize(rec, dec.Index())
		for _, skip := range dropped {
			n.pruned++
			a.reportSkip(ctx, opts, skip, dec.Index())
		}
		switch disp, skip := archive.Classify(err); disp {
		case archive.DispositionSkip:
			n.skipped++
			a.reportSkip(ctx, opts, skip, dec.Index())
			continue
		case archive.DispositionFail:
			return fmt.Errorf("record %d: %w", dec.Index(), err)
		}

		n.yielded++
		a.metrics.RecordYielded(ctx)
		if !yield(conv) {
			return nil
		}
	}

	if opts.OnProgress != nil && n.decoded%every != 0 {
		opts.OnProgress(n.decoded)
	}
	return nil
}

// normalize takes one record from raw value to a validated conversation.
// Pruned messages are returned alongside a surviving conversation.
func (a *Adapter) normalize(rec decoder.Record, index int) (*model.Conversation, []*archive.SkipError, error) {
	fallback := fmt.Sprintf("record#%d", index)
	schema := a.dialect.Schema()

	raw, err := validate.CheckObject(rec, fallback, schema)
	if err != nil {
		return nil, nil, err
	}
	id := validate.RecordID(raw, schema.IDKeys, fallback)

	conv, err := a.dialect.Normalize(raw)
	if err != nil {
		return nil, nil, withID(err, id)
	}
	if err := validate.Conversation(conv, id); err != nil {
		return nil, nil, err
	}
	return validate.PruneOrphans(conv)
}

// withID names a skip that the dialect could not attribute.
func withID(err error, id string) error {
	if disp, skip := archive.Classify(err); disp == archive.DispositionSkip && skip.ID == "" {
		skip.ID = id
	}
	return err
}

func (a *Adapter) reportSkip(ctx context.Context, opts StreamOptions, skip *archive.SkipError, record int) {
	a.logger.Warn(ctx, "skipping record",
		zap.String("conversation_id", skip.ID),
		zap.String("category", string(skip.Category)),
		zap.String("reason", skip.Reason),
		zap.Int("record", record),
	)
	a.metrics.RecordSkip(ctx, string(skip.Category))
	if opts.OnSkip != nil {
		opts.OnSkip(SkipEvent{ID: skip.ID, Category: skip.Category, Reason: skip.Reason, Record: record})
	}
}

// Search ranks every conversation of src against q. Results are yielded
// only after the whole archive was scanned; an operational failure yields
// the error alone.
func (a *Adapter) Search(ctx context.Context, src archive.Source, q search.Query, opts StreamOptions) iter.Seq2[*model.SearchResult, error] {
	return func(yield func(*model.SearchResult, error) bool) {
		if err := q.Validate(); err != nil {
			yield(nil, err)
			return
		}

		ctx, span := a.tracer.Start(logging.WithOperation(ctx, "search"), "provider.search",
			trace.WithAttributes(
				attribute.String("provider", a.Name()),
				attribute.StringSlice("keywords", q.Keywords),
				attribute.Int("phrases", len(q.Phrases)),
				attribute.String("match_mode", string(q.MatchMode)),
				attribute.Int("limit", q.Limit),
			),
		)
		defer span.End()

		start := time.Now()
		results, stats, err := a.engine.Rank(q, a.Stream(ctx, src, opts))
		span.SetAttributes(
			attribute.Int("scanned", stats.Scanned),
			attribute.Int("matched", stats.Matched),
			attribute.Int("peak_buffered", stats.PeakBuffered),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}

		elapsed := time.Since(start)
		a.metrics.RecordSearch(ctx, elapsed, len(results))
		span.SetAttributes(attribute.Int("results", len(results)))
		a.logger.Debug(ctx, "search complete",
			zap.Int("scanned", stats.Scanned),
			zap.Int("matched", stats.Matched),
			zap.Int("results", len(results)),
			zap.Duration("duration", elapsed),
		)

		for _, r := range results {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// GetByID scans src until a conversation with id is found.
func (a *Adapter) GetByID(ctx context.Context, src archive.Source, id string) (*model.Conversation, error) {
	for conv, err := range a.Stream(logging.WithOperation(ctx, "get"), src, StreamOptions{}) {
		if err != nil {
			return nil, err
		}
		if conv.ID == id {
			return conv, nil
		}
	}
	return nil, &archive.NotFoundError{Kind: "conversation", Name: id}
}
