// Package httpmiddleware assembles the middleware stack for the monitoring
// HTTP server: correlation IDs, security headers, request logging, panic
// recovery, CORS, timeouts and compression.
package httpmiddleware

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// Config controls the middleware stack. A nil Logger disables request
// logging; a nil CORS disables cross-origin handling.
type Config struct {
	Logger  logger.Logger
	CORS    *CORSConfig
	Timeout time.Duration
}

// DefaultConfig returns the stack used by the monitoring server: default
// CORS, a 60 second request timeout, no request logging.
func DefaultConfig() Config {
	corsConfig := DefaultCORSConfig()
	return Config{
		CORS:    &corsConfig,
		Timeout: 60 * time.Second,
	}
}

// Apply attaches the configured middleware to the router. Correlation runs
// first so every later layer, including the request logger, sees the ID.
func Apply(router chi.Router, config Config) {
	router.Use(CorrelationID())
	router.Use(securityHeaders())

	if config.Logger != nil {
		router.Use(NewHTTPLogger(config.Logger).Middleware)
	}

	router.Use(middleware.Recoverer)

	if config.CORS != nil {
		router.Use(CORS(*config.CORS))
	}
	if config.Timeout > 0 {
		router.Use(middleware.Timeout(config.Timeout))
	}

	router.Use(middleware.Compress(5))
}

// WithLogger applies the default stack with request logging enabled.
func WithLogger(router chi.Router, log logger.Logger) {
	config := DefaultConfig()
	config.Logger = log
	Apply(router, config)
}
