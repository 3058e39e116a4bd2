// Package metrics instruments archive ingestion and search.
//
// Counters are kept in the default Prometheus registry, which WriteText dumps
// for `echomine --metrics`, and mirrored to OpenTelemetry instruments that
// are exported over OTLP when telemetry is enabled.
package metrics

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/aucontraire/echomine-sub001/internal/metrics"

var (
	// RecordsDecoded counts raw records read from archives.
	// Labels: provider
	RecordsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echomine",
			Subsystem: "ingest",
			Name:      "records_decoded_total",
			Help:      "Total number of raw archive records decoded",
		},
		[]string{"provider"},
	)

	// ConversationsYielded counts conversations handed to consumers.
	// Labels: provider
	ConversationsYielded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echomine",
			Subsystem: "ingest",
			Name:      "conversations_total",
			Help:      "Total number of valid conversations yielded",
		},
		[]string{"provider"},
	)

	// RecordsSkipped counts skipped records and messages.
	// Labels: provider, category (syntax, schema, validation)
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echomine",
			Subsystem: "ingest",
			Name:      "skipped_total",
			Help:      "Total number of records or messages skipped by category",
		},
		[]string{"provider", "category"},
	)

	// SearchDuration tracks full search passes.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "echomine",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of search passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// SearchResults tracks how many results searches return.
	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "echomine",
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 500},
		},
		[]string{"provider"},
	)
)

// Metrics records pipeline events for one provider.
type Metrics struct {
	provider string
	logger   *zap.Logger

	decoded  metric.Int64Counter
	yielded  metric.Int64Counter
	skipped  metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates instruments on the global OTel meter provider.
func New(provider string, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{provider: provider, logger: logger}
	m.init(otel.Meter(instrumentationName))
	return m
}

func (m *Metrics) init(meter metric.Meter) {
	var err error

	m.decoded, err = meter.Int64Counter(
		"echomine.ingest.records_decoded",
		metric.WithDescription("Raw archive records decoded"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.logger.Warn("failed to create decoded counter", zap.Error(err))
	}

	m.yielded, err = meter.Int64Counter(
		"echomine.ingest.conversations",
		metric.WithDescription("Valid conversations yielded"),
		metric.WithUnit("{conversation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create yielded counter", zap.Error(err))
	}

	m.skipped, err = meter.Int64Counter(
		"echomine.ingest.skipped",
		metric.WithDescription("Records or messages skipped by category"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.logger.Warn("failed to create skipped counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"echomine.search.duration_seconds",
		metric.WithDescription("Duration of search passes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		m.logger.Warn("failed to create search duration histogram", zap.Error(err))
	}
}

func (m *Metrics) attrs(extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("provider", m.provider)}, extra...)...)
}

// RecordDecoded counts one raw record.
func (m *Metrics) RecordDecoded(ctx context.Context) {
	RecordsDecoded.WithLabelValues(m.provider).Inc()
	if m.decoded != nil {
		m.decoded.Add(ctx, 1, m.attrs())
	}
}

// RecordYielded counts one conversation handed to the consumer.
func (m *Metrics) RecordYielded(ctx context.Context) {
	ConversationsYielded.WithLabelValues(m.provider).Inc()
	if m.yielded != nil {
		m.yielded.Add(ctx, 1, m.attrs())
	}
}

// RecordSkip counts one skip in category.
func (m *Metrics) RecordSkip(ctx context.Context, category string) {
	RecordsSkipped.WithLabelValues(m.provider, category).Inc()
	if m.skipped != nil {
		m.skipped.Add(ctx, 1, m.attrs(attribute.String("category", category)))
	}
}

// RecordSearch observes a completed search.
func (m *Metrics) RecordSearch(ctx context.Context, d time.Duration, results int) {
	SearchDuration.WithLabelValues(m.provider).Observe(d.Seconds())
	SearchResults.WithLabelValues(m.provider).Observe(float64(results))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), m.attrs())
	}
}

// WriteText writes the echomine metric families of the default registry in
// the Prometheus text format.
func WriteText(w io.Writer) error {
	return writeText(w, prometheus.DefaultGatherer)
}

func writeText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "echomine_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
