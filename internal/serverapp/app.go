// Package serverapp wires configuration, the database, the entity catalogue
// and the fetch engine into an HTTP server, and owns their lifecycle.
package serverapp

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"omnifetch/internal/config"
	"omnifetch/internal/fetch"
	"omnifetch/internal/logging"
	"omnifetch/internal/observability"
	"omnifetch/internal/planner"
	"omnifetch/internal/schema"
)

// App owns runtime resources for the omnifetch server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	fetchMetrics   *observability.FetchMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	catalog *schema.Catalog
	fetcher *fetch.Fetcher

	mux     *http.ServeMux
	handler http.Handler
	srv     *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper. It checks that the configured driver
// has a SQL dialect but touches no external resource.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if _, err := planner.DialectFor(cfg.Database.DriverName()); err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
