// Package handler exposes fetches over HTTP as JSON.
//
// Routes:
//
//	GET      /entities                 entity names
//	GET|POST /entities/{entity}        one page of records with pagination
//	GET|POST /entities/{entity}/one    the first matching record
//
// GET requests carry parameters in the query string: filters as a JSON
// array, embeds comma separated or repeated, page, page_size and order_by.
// POST requests carry the same parameters as a JSON object.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"omnifetch/internal/fetch"
	"omnifetch/internal/logging"
	"omnifetch/internal/schema"
	"omnifetch/internal/sqlstore"
)

const defaultMaxBodyBytes = 1 << 20

// Fetcher runs fetches for the handler.
type Fetcher interface {
	GetAll(ctx context.Context, entity string, raw fetch.RawParams, settings fetch.Settings) (*fetch.List, error)
	GetOne(ctx context.Context, entity string, raw fetch.RawParams, settings fetch.Settings) (fetch.Row, error)
}

// Catalog looks up the entities the handler may serve.
type Catalog interface {
	Entity(name string) (schema.Entity, bool)
	Names() []string
}

// Handler serves fetch routes.
type Handler struct {
	fetcher      Fetcher
	catalog      Catalog
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodyBytes limits POST bodies. Non-positive values keep the default.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// New creates a Handler.
func New(fetcher Fetcher, catalog Catalog, opts ...Option) *Handler {
	h := &Handler{
		fetcher:      fetcher,
		catalog:      catalog,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the fetch routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /entities", h.handleEntities)
	mux.HandleFunc("GET /entities/{entity}", h.handleList)
	mux.HandleFunc("POST /entities/{entity}", h.handleList)
	mux.HandleFunc("GET /entities/{entity}/one", h.handleOne)
	mux.HandleFunc("POST /entities/{entity}/one", h.handleOne)
}

func (h *Handler) handleEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"entities": h.catalog.Names()})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entity, settings, raw, ok := h.prepare(w, r)
	if !ok {
		return
	}

	list, err := h.fetcher.GetAll(r.Context(), entity, raw, settings)
	if err != nil {
		writeFetchError(w, r, entity, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleOne(w http.ResponseWriter, r *http.Request) {
	entity, settings, raw, ok := h.prepare(w, r)
	if !ok {
		return
	}

	row, err := h.fetcher.GetOne(r.Context(), entity, raw, settings)
	if err != nil {
		writeFetchError(w, r, entity, err)
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// prepare resolves the entity and decodes the request parameters. It writes
// the error response itself and reports false when the request cannot proceed.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (string, fetch.Settings, fetch.RawParams, bool) {
	name := r.PathValue("entity")
	entity, found := h.catalog.Entity(name)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown entity %q", name))
		return "", fetch.Settings{}, fetch.RawParams{}, false
	}

	var (
		raw fetch.RawParams
		err error
	)
	if r.Method == http.MethodPost {
		raw, err = decodeBody(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	} else {
		raw, err = decodeQuery(r)
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("rejected fetch parameters",
			slog.String("entity", name),
			slog.String("error", err.Error()),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return "", fetch.Settings{}, fetch.RawParams{}, false
	}
	return entity.Name, fetch.Settings{PrimaryKey: entity.PrimaryKey}, raw, true
}

func decodeBody(body io.Reader) (fetch.RawParams, error) {
	var raw fetch.RawParams
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return fetch.RawParams{}, nil
		}
		return fetch.RawParams{}, fmt.Errorf("invalid request body: %w", err)
	}
	return raw, nil
}

func decodeQuery(r *http.Request) (fetch.RawParams, error) {
	q := r.URL.Query()
	raw := fetch.RawParams{OrderBy: q.Get("order_by")}

	if filters := strings.TrimSpace(q.Get("filters")); filters != "" {
		dec := json.NewDecoder(strings.NewReader(filters))
		dec.UseNumber()
		if err := dec.Decode(&raw.Filters); err != nil {
			return fetch.RawParams{}, fmt.Errorf("invalid filters parameter: %w", err)
		}
	}
	for _, value := range q["embeds"] {
		raw.Embeds = append(raw.Embeds, strings.Split(value, ",")...)
	}
	if page := q.Get("page"); page != "" {
		raw.Page = page
	}
	if pageSize := q.Get("page_size"); pageSize != "" {
		raw.PageSize = pageSize
	}
	return raw, nil
}

func writeFetchError(w http.ResponseWriter, r *http.Request, entity string, err error) {
	status := http.StatusInternalServerError
	message := "fetch failed"
	switch {
	case errors.Is(err, schema.ErrUnknownEntity):
		status, message = http.StatusNotFound, "unknown entity"
	case errors.Is(err, sqlstore.ErrAccessDenied):
		status, message = http.StatusForbidden, "access denied"
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "fetch timed out"
	case errors.Is(err, fetch.ErrMissingPrimaryKey):
		message = "entity has no primary key configured"
	}

	logging.FromContext(r.Context()).Error("fetch failed",
		slog.String("entity", entity),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeError(w, status, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
