// Package fetch assembles declarative fetches: it normalizes caller input,
// runs the main query, attaches embedded relations to each record and
// computes pagination.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"omnifetch/internal/logging"
	"omnifetch/internal/observability"
	"omnifetch/internal/planner"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ErrMissingPrimaryKey is returned when Settings names no primary key.
var ErrMissingPrimaryKey = errors.New("settings: primary key is required")

// Store runs planned queries. It also resolves relations between entities.
type Store interface {
	planner.RelationResolver
	Query(ctx context.Context, q planner.Query) ([]Row, error)
	Count(ctx context.Context, q planner.CountQuery) (int64, error)
}

// Settings carries per-entity configuration for a fetch.
type Settings struct {
	PrimaryKey string
}

// Fetcher runs GetAll and GetOne against a Store. It holds no per-call state
// and is safe for concurrent use.
type Fetcher struct {
	store            Store
	metrics          *observability.FetchMetrics
	embedConcurrency int
	defaultPageSize  int
	maxPageSize      int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMetrics records fetch metrics.
func WithMetrics(m *observability.FetchMetrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// WithEmbedConcurrency runs up to n embed sub-queries at once. Results are
// still merged in declared embed order. Values below 2 keep them sequential.
func WithEmbedConcurrency(n int) Option {
	return func(f *Fetcher) {
		f.embedConcurrency = n
	}
}

// WithDefaultPageSize replaces DefaultPageSize for requests without page_size.
func WithDefaultPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.defaultPageSize = n
		}
	}
}

// WithMaxPageSize caps page_size. Zero means no cap.
func WithMaxPageSize(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxPageSize = n
		}
	}
}

// New creates a Fetcher.
func New(store Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:            store,
		embedConcurrency: 1,
		defaultPageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// GetAll returns one page of entity records with their embeds and paging
// metadata.
func (f *Fetcher) GetAll(ctx context.Context, entity string, raw RawParams, settings Settings) (_ *List, err error) {
	ctx, span := startFetchSpan(ctx, "fetch.get_all", attribute.String("fetch.entity", entity))
	defer func() { finishFetchSpan(span, err) }()
	done := f.track(ctx, "get_all", entity)
	defer func() { done(err) }()

	if strings.TrimSpace(settings.PrimaryKey) == "" {
		return nil, ErrMissingPrimaryKey
	}
	params := f.normalize(ctx, raw)

	results, err := f.fetchMain(ctx, entity, params, settings)
	if err != nil {
		return nil, err
	}
	if err := f.embed(ctx, entity, settings.PrimaryKey, params.Embeds, results); err != nil {
		return nil, err
	}

	countQuery, err := planner.PlanCount(ctx, f.store, f.request(entity, params, settings))
	if err != nil {
		return nil, fmt.Errorf("plan count for %s: %w", entity, err)
	}
	total, err := f.store.Count(ctx, countQuery)
	if err != nil {
		logging.FromContext(ctx).Error("count query failed",
			slog.String("entity", entity),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("count %s: %w", entity, err)
	}

	rows := results.rows
	if rows == nil {
		rows = []Row{}
	}
	f.metrics.RecordRowsReturned(ctx, int64(len(rows)), "get_all")
	span.SetAttributes(
		attribute.Int("fetch.rows", len(rows)),
		attribute.Int64("fetch.total_count", total),
	)
	return &List{
		List:       rows,
		Pagination: NewPagination(params.Page, params.PageSize, total, len(rows)),
	}, nil
}

// GetOne returns the first matching record with its embeds, or nil when
// nothing matches.
func (f *Fetcher) GetOne(ctx context.Context, entity string, raw RawParams, settings Settings) (_ Row, err error) {
	ctx, span := startFetchSpan(ctx, "fetch.get_one", attribute.String("fetch.entity", entity))
	defer func() { finishFetchSpan(span, err) }()
	done := f.track(ctx, "get_one", entity)
	defer func() { done(err) }()

	if strings.TrimSpace(settings.PrimaryKey) == "" {
		return nil, ErrMissingPrimaryKey
	}
	params := f.normalize(ctx, raw)

	results, err := f.fetchMain(ctx, entity, params, settings)
	if err != nil {
		return nil, err
	}
	results.truncate(1)
	if err := f.embed(ctx, entity, settings.PrimaryKey, params.Embeds, results); err != nil {
		return nil, err
	}

	f.metrics.RecordRowsReturned(ctx, int64(results.size()), "get_one")
	span.SetAttributes(attribute.Int("fetch.rows", results.size()))
	if results.size() == 0 {
		return nil, nil
	}
	return results.rows[0], nil
}

func (f *Fetcher) track(ctx context.Context, operation, entity string) func(error) {
	start := time.Now()
	f.metrics.IncrementActiveRequests(ctx)
	return func(err error) {
		f.metrics.DecrementActiveRequests(ctx)
		f.metrics.RecordRequest(ctx, time.Since(start), operation, entity, err != nil)
	}
}

func (f *Fetcher) normalize(ctx context.Context, raw RawParams) Params {
	params := normalizeParams(raw, f.defaultPageSize)
	if f.maxPageSize > 0 && params.PageSize > f.maxPageSize {
		params.PageSize = f.maxPageSize
	}

	logger := logging.FromContext(ctx)
	if params.DroppedFilters > 0 {
		logger.Debug("dropped malformed filters", slog.Int("count", params.DroppedFilters))
		f.metrics.RecordFiltersDropped(ctx, int64(params.DroppedFilters))
	}
	if params.OrderByDiscarded {
		logger.Debug("discarded order_by expression", slog.String("order_by", raw.OrderBy))
		f.metrics.RecordOrderByDropped(ctx)
	}
	return params
}

func (f *Fetcher) request(entity string, params Params, settings Settings) planner.Request {
	return planner.Request{
		Entity:     entity,
		PrimaryKey: settings.PrimaryKey,
		Filters:    params.Filters,
		Limit:      uint64(params.PageSize),
		Offset:     uint64(params.Offset()),
		OrderBy:    params.OrderBy,
	}
}

func (f *Fetcher) fetchMain(ctx context.Context, entity string, params Params, settings Settings) (*resultSet, error) {
	query, err := planner.PlanData(ctx, f.store, f.request(entity, params, settings))
	if err != nil {
		return nil, fmt.Errorf("plan query for %s: %w", entity, err)
	}
	rows, err := f.store.Query(ctx, query)
	if err != nil {
		logging.FromContext(ctx).Error("main query failed",
			slog.String("entity", entity),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	return newResultSet(settings.PrimaryKey, rows), nil
}

// embedResult is the outcome of one embed sub-query, merged later.
type embedResult struct {
	embed       Embed
	skipped     bool
	cardinality planner.Cardinality
	rows        []Row
}

// embed runs one sub-query per embed and merges them in declared order. An
// embed whose relation chain does not resolve adds no key to the records.
func (f *Fetcher) embed(ctx context.Context, entity, primaryKey string, embeds []Embed, results *resultSet) error {
	if len(embeds) == 0 {
		return nil
	}
	if results.size() == 0 {
		for range embeds {
			f.metrics.RecordEmbedSkipped(ctx, "no_rows")
		}
		return nil
	}

	keys := results.primaryKeys()
	fetched := make([]embedResult, len(embeds))

	if f.embedConcurrency > 1 && len(embeds) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.embedConcurrency)
		for i, e := range embeds {
			g.Go(func() error {
				res, err := f.fetchEmbed(gctx, entity, primaryKey, e, keys)
				fetched[i] = res
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for i, e := range embeds {
			res, err := f.fetchEmbed(ctx, entity, primaryKey, e, keys)
			if err != nil {
				return err
			}
			fetched[i] = res
		}
	}

	for _, res := range fetched {
		if res.skipped {
			continue
		}
		results.initEmbed(res.embed.Name, res.cardinality)
		results.mergeEmbed(res.embed.Name, res.cardinality, res.rows)
	}
	return nil
}

func (f *Fetcher) fetchEmbed(ctx context.Context, entity, primaryKey string, e Embed, keys []any) (_ embedResult, err error) {
	ctx, span := startFetchSpan(ctx, "fetch.embed",
		attribute.String("fetch.entity", entity),
		attribute.String("fetch.embed", e.Name),
	)
	defer func() { finishFetchSpan(span, err) }()

	res := embedResult{embed: e}
	skip := func() (embedResult, error) {
		logging.FromContext(ctx).Debug("skipping unresolved embed",
			slog.String("entity", entity),
			slog.String("embed", e.Name),
		)
		f.metrics.RecordEmbedSkipped(ctx, "relation_not_found")
		res.skipped = true
		return res, nil
	}

	rel, err := planner.ResolveChain(ctx, f.store, entity, e.Path)
	if errors.Is(err, planner.ErrRelationNotFound) {
		return skip()
	}
	if err != nil {
		return res, fmt.Errorf("resolve embed %s on %s: %w", e.Name, entity, err)
	}
	res.cardinality = rel.Cardinality
	span.SetAttributes(attribute.String("fetch.cardinality", rel.Cardinality.String()))

	query, err := planner.PlanEmbed(ctx, f.store, entity, primaryKey, e.Path, keys)
	if errors.Is(err, planner.ErrRelationNotFound) {
		return skip()
	}
	if err != nil {
		return res, fmt.Errorf("plan embed %s on %s: %w", e.Name, entity, err)
	}
	rows, err := f.store.Query(ctx, query)
	if err != nil {
		logging.FromContext(ctx).Error("embed query failed",
			slog.String("entity", entity),
			slog.String("embed", e.Name),
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("embed %s on %s: %w", e.Name, entity, err)
	}
	res.rows = rows
	f.metrics.RecordEmbedQuery(ctx, int64(len(rows)), rel.Cardinality.String())
	return res, nil
}
