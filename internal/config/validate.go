package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.Fetch.validate(result)
	c.Schema.validate(result)
	c.Observability.validate(result)

	if c.Database.DriverName() == DriverSQLite && strings.TrimSpace(c.Schema.File) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "schema.file",
			Message: "the sqlite driver needs a catalogue file",
			Hint:    "introspection reads information_schema, which sqlite lacks",
		})
	}

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.DriverName() {
	case DriverMySQL:
		d.validateMySQL(result)
	case DriverSQLite:
		if d.ConnectionString == "" && strings.TrimSpace(d.Path) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.path",
				Message: "path is required for the sqlite driver",
				Hint:    "set database.path to a file or :memory:",
			})
		}
		if d.TLS.Mode != "" && d.TLS.Mode != "off" {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "database.tls.mode",
				Message: "TLS settings are ignored by the sqlite driver",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unsupported driver %q", d.Driver),
			Hint:    "valid values are: mysql, sqlite",
		})
	}

	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	if d.ConnectionTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_timeout",
			Message: "connection_timeout cannot be negative",
		})
	}
	if d.ConnectionRetryInterval < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval cannot be negative",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval must be greater than 0 when connection_timeout is set",
			Hint:    "set a retry interval such as 2s, or set connection_timeout to 0 to disable retries",
		})
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.connection_retry_interval",
			Message: "connection_retry_interval is greater than connection_timeout",
			Hint:    "only one connection attempt will be made",
		})
	}
}

func (d *DatabaseConfig) validateMySQL(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}

	d.TLS.validate(result)

	effective, err := d.EffectiveDatabaseName()
	if err != nil {
		field, hint := "database.database", "set database.database or include /<database> in database.dsn"
		if strings.HasPrefix(err.Error(), "database.dsn") {
			field, hint = "database.dsn", "set a valid MySQL DSN in database.dsn or database.dsn_file"
		}
		result.Errors = append(result.Errors, ValidationError{
			Field:   field,
			Message: err.Error(),
			Hint:    hint,
		})
		return
	}
	d.Database = effective
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("invalid TLS mode %q", t.Mode),
			Hint:    "valid values are: off, skip-verify, verify-ca, verify-full",
		})
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.ca_file",
			Message: "CA file is required for verify-ca and verify-full modes",
		})
	}

	if (t.CertFile != "") != (t.KeyFile != "") {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.cert_file",
			Message: "both cert_file and key_file must be specified for client certificate authentication",
			Hint:    "provide both cert_file and key_file, or neither",
		})
	}

	if t.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify mode does not verify server certificates",
			Hint:    "use verify-ca or verify-full in production",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port),
		})
	}

	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"server.read_timeout", s.ReadTimeout},
		{"server.write_timeout", s.WriteTimeout},
		{"server.idle_timeout", s.IdleTimeout},
		{"server.shutdown_timeout", s.ShutdownTimeout},
		{"server.health_check_timeout", s.HealthCheckTimeout},
		{"server.request_timeout", s.RequestTimeout},
	}
	for _, timeout := range timeouts {
		if timeout.value < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   timeout.field,
				Message: "timeout cannot be negative",
			})
		}
	}

	if s.MaxBodyBytes < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.max_body_bytes",
			Message: "max_body_bytes cannot be negative",
		})
	}
	s.CORS.validate(result)
	s.RateLimit.validate(result)

	if s.RequestTimeout > 0 && s.WriteTimeout > 0 && s.RequestTimeout > s.WriteTimeout {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.request_timeout",
			Message: "request_timeout is greater than write_timeout",
			Hint:    "responses for slow fetches will be cut off by the write timeout",
		})
	}
}

func (c *CORSConfig) validate(result *ValidationResult) {
	if !c.Enabled {
		return
	}
	if len(c.AllowedOrigins) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.cors.allowed_origins",
			Message: "CORS enabled but no allowed origins configured",
			Hint:    "set server.cors.allowed_origins or disable CORS",
		})
	}
	hasWildcard := false
	for _, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			hasWildcard = true
			break
		}
	}
	if hasWildcard && c.AllowCredentials {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.cors.allowed_origins",
			Message: "wildcard origin (*) cannot be used with credentials",
			Hint:    "use specific origins with credentials, or wildcard without credentials",
		})
	} else if hasWildcard {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.cors.allowed_origins",
			Message: "CORS wildcard origin enabled",
			Hint:    "use specific origins in production",
		})
	}
	if c.MaxAge < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.cors.max_age",
			Message: "max_age cannot be negative",
		})
	}
}

func (r *RateLimitConfig) validate(result *ValidationResult) {
	if r.Enabled {
		if r.RPS <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit.rps",
				Message: "rps must be greater than 0 when rate limiting is enabled",
			})
		}
		if r.Burst <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.rate_limit.burst",
				Message: "burst must be greater than 0 when rate limiting is enabled",
			})
		}
		return
	}
	if r.RPS > 0 || r.Burst > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.rate_limit.enabled",
			Message: "rate limit values are set but rate limiting is disabled",
			Hint:    "set server.rate_limit.enabled to apply them",
		})
	}
}

func (f *FetchConfig) validate(result *ValidationResult) {
	if f.DefaultPageSize <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "fetch.default_page_size",
			Message: "default_page_size must be greater than 0",
		})
	}
	if f.MaxPageSize < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "fetch.max_page_size",
			Message: "max_page_size cannot be negative",
			Hint:    "set 0 to disable the cap",
		})
	} else if f.MaxPageSize > 0 && f.MaxPageSize < f.DefaultPageSize {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "fetch.max_page_size",
			Message: fmt.Sprintf("max_page_size %d is smaller than default_page_size %d", f.MaxPageSize, f.DefaultPageSize),
		})
	}
	if f.EmbedConcurrency < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "fetch.embed_concurrency",
			Message: "embed_concurrency must be at least 1",
		})
	}
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	validateOverrides(result, "schema.naming.plural_overrides", s.Naming.PluralOverrides)
	validateOverrides(result, "schema.naming.singular_overrides", s.Naming.SingularOverrides)
	if err := s.Filters.Validate(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "schema.filters",
			Message: err.Error(),
			Hint:    "patterns use path.Match syntax, e.g. \"audit_*\"",
		})
	}
}

func validateOverrides(result *ValidationResult, field string, overrides map[string]string) {
	for from, to := range overrides {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("override %q -> %q cannot have an empty side", from, to),
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   prefix + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   prefix + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
