package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"fraudgate/internal/auth"
	"fraudgate/internal/config"
	"fraudgate/internal/fraud"
	"fraudgate/internal/transfer"
)

// Pinger reports persistence reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	evaluator  *fraud.Evaluator
	authorizer *transfer.Authorizer
	resolver   *auth.Resolver
	pinger     Pinger
	authCfg    config.AuthConfig
	logger     zerolog.Logger
}

// NewServer constructs the handler set.
func NewServer(
	evaluator *fraud.Evaluator,
	authorizer *transfer.Authorizer,
	resolver *auth.Resolver,
	pinger Pinger,
	authCfg config.AuthConfig,
	logger zerolog.Logger,
) *Server {
	return &Server{
		evaluator:  evaluator,
		authorizer: authorizer,
		resolver:   resolver,
		pinger:     pinger,
		authCfg:    authCfg,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// NewHTTPServer wraps the router in an http.Server with bounded timeouts.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
