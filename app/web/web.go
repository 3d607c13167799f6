// Package web implements the HTTP API for the workflow library
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/wflib/app/persistence"
	"github.com/umputun/wflib/app/workflow"
)

// Store defines workflow storage operations used by the API
type Store interface {
	Get(ctx context.Context, id string) (persistence.WorkflowRecord, error)
	Create(ctx context.Context, wf workflow.Workflow) (persistence.WorkflowRecord, error)
	Update(ctx context.Context, wf workflow.Workflow) (persistence.WorkflowRecord, error)
	Delete(ctx context.Context, id string) error
	GetMany(ctx context.Context, req persistence.ListRequest) (persistence.PaginatedResults[persistence.WorkflowRecord], error)
}

// Server represents the web server
type Server struct {
	store          Store
	baseURL        string // base URL path for reverse proxy (e.g., /wflib), empty for root
	version        string
	passwordHash   string  // bcrypt hash for basic auth
	maxBodySize    int64   // max request size in bytes
	writeRateLimit float64 // per-IP requests per second for mutating routes, 0 = unlimited
}

// Config holds server configuration
type Config struct {
	Store          Store
	BaseURL        string
	Version        string
	PasswordHash   string // bcrypt hash for basic auth (empty to disable)
	MaxBodySize    int64  // defaults to 1MB if not set
	WriteRateLimit float64
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("web server initialization failed: Store is required")
	}

	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 1024 * 1024
	}

	return &Server{
		store:          cfg.Store,
		baseURL:        cfg.BaseURL,
		version:        cfg.Version,
		passwordHash:   cfg.PasswordHash,
		maxBodySize:    maxBody,
		writeRateLimit: cfg.WriteRateLimit,
	}, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// handler returns the http.Handler with base URL wrapping applied
func (s *Server) handler() http.Handler {
	routes := s.routes()
	if s.baseURL == "" {
		return routes
	}

	mux := http.NewServeMux()
	mux.Handle(s.baseURL+"/", http.StripPrefix(s.baseURL, routes))
	return mux
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("wflib", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(s.maxBodySize),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for workflows api")
		router.Use(s.authMiddleware)
	}

	router.Mount("/v1/workflows").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		api.HandleFunc("GET /schema", s.handleSchema)
		api.HandleFunc("GET /i/{workflow_id}", s.handleGetWorkflow)
		api.HandleFunc("GET /", s.handleListWorkflows)

		write := api.Group()
		if s.writeRateLimit > 0 {
			write.Use(tollbooth.HTTPMiddleware(s.writeLimiter()))
		}
		write.HandleFunc("POST /", s.handleCreateWorkflow)
		write.HandleFunc("PATCH /", s.handleUpdateWorkflow)
		write.HandleFunc("DELETE /i/{workflow_id}", s.handleDeleteWorkflow)
	})

	return router
}

// writeLimiter makes per-ip limiter for mutating requests
func (s *Server) writeLimiter() *limiter.Limiter {
	lmt := tollbooth.NewLimiter(s.writeRateLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessage(`{"error":"rate limit exceeded"}`)
	lmt.SetMessageContentType("application/json")
	return lmt
}
