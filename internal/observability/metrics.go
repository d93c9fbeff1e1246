package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FetchMetrics holds custom metrics for fetch operations
type FetchMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	rowsReturned    metric.Int64Histogram
	embedQueries    metric.Int64Counter
	embedRows       metric.Int64Histogram
	embedsSkipped   metric.Int64Counter
	filtersDropped  metric.Int64Counter
	orderByDropped  metric.Int64Counter
}

// InitFetchMetrics initializes fetch-specific metrics on the global meter.
func InitFetchMetrics() (*FetchMetrics, error) {
	meter := otel.Meter("omnifetch")

	requestDuration, err := meter.Float64Histogram(
		"fetch.request.duration",
		metric.WithDescription("Duration of fetch operations in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"fetch.requests.total",
		metric.WithDescription("Total number of fetch operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"fetch.errors.total",
		metric.WithDescription("Total number of failed fetch operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"fetch.requests.active",
		metric.WithDescription("Number of fetch operations in progress"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"fetch.rows.returned",
		metric.WithDescription("Number of main entity rows returned by a fetch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows returned histogram: %w", err)
	}

	embedQueries, err := meter.Int64Counter(
		"fetch.embed.queries",
		metric.WithDescription("Number of embed sub-queries executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embed queries counter: %w", err)
	}

	embedRows, err := meter.Int64Histogram(
		"fetch.embed.rows",
		metric.WithDescription("Number of rows returned by an embed sub-query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embed rows histogram: %w", err)
	}

	embedsSkipped, err := meter.Int64Counter(
		"fetch.embed.skipped",
		metric.WithDescription("Number of embeds skipped without a sub-query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeds skipped counter: %w", err)
	}

	filtersDropped, err := meter.Int64Counter(
		"fetch.filters.dropped",
		metric.WithDescription("Number of malformed filters dropped during normalization"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filters dropped counter: %w", err)
	}

	orderByDropped, err := meter.Int64Counter(
		"fetch.order_by.dropped",
		metric.WithDescription("Number of order_by expressions discarded by validation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create order_by dropped counter: %w", err)
	}

	return &FetchMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		rowsReturned:    rowsReturned,
		embedQueries:    embedQueries,
		embedRows:       embedRows,
		embedsSkipped:   embedsSkipped,
		filtersDropped:  filtersDropped,
		orderByDropped:  orderByDropped,
	}, nil
}

// RecordRequest records a fetch with its duration and outcome.
func (m *FetchMetrics) RecordRequest(ctx context.Context, duration time.Duration, operation, entity string, failed bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("entity", entity),
		attribute.Bool("has_errors", failed),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if failed {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("entity", entity),
		))
	}
}

// RecordRowsReturned records the number of main rows a fetch produced.
func (m *FetchMetrics) RecordRowsReturned(ctx context.Context, count int64, operation string) {
	if m == nil {
		return
	}
	m.rowsReturned.Record(ctx, count, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordEmbedQuery records one executed embed sub-query and its row count.
func (m *FetchMetrics) RecordEmbedQuery(ctx context.Context, rows int64, cardinality string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cardinality", cardinality))
	m.embedQueries.Add(ctx, 1, attrs)
	m.embedRows.Record(ctx, rows, attrs)
}

// RecordEmbedSkipped records an embed that produced no sub-query.
func (m *FetchMetrics) RecordEmbedSkipped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.embedsSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordFiltersDropped records filters discarded during normalization.
func (m *FetchMetrics) RecordFiltersDropped(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.filtersDropped.Add(ctx, count)
}

// RecordOrderByDropped records a discarded order_by expression.
func (m *FetchMetrics) RecordOrderByDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.orderByDropped.Add(ctx, 1)
}

// IncrementActiveRequests increments the active requests counter
func (m *FetchMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *FetchMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the FetchMetrics instance
func InitMetrics(logger *slog.Logger) (*FetchMetrics, error) {
	metrics, err := InitFetchMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fetch metrics: %w", err)
	}

	logger.Info("custom fetch metrics initialized")
	return metrics, nil
}
