package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/warren/pkg/controller"
	"github.com/cuemby/warren/pkg/ingest"
	"github.com/cuemby/warren/pkg/log"
	"github.com/rs/zerolog"
)

// Config configures a new Server.
type Config struct {
	Controller *controller.Controller
	Ingest     *ingest.Manager

	// AuthKey/AdminKey are the constant-time-compared keys routes
	// declared REQUIRED/ADMIN check incoming requests against.
	AuthKey  string
	AdminKey string
}

// Server is the control plane's REST front-end (spec §4.10/§13): it
// translates HTTP calls into Controller/IngestRequestManager
// operations and renders every response as the shared envelope.
type Server struct {
	ctrl   *controller.Controller
	ingest *ingest.Manager
	auth   authenticator
	jobs   *jobRegistry
	logger zerolog.Logger

	httpSrv *http.Server
}

// NewServer builds a Server and registers its routes; it does not
// start listening.
func NewServer(cfg Config) *Server {
	s := &Server{
		ctrl:   cfg.Controller,
		ingest: cfg.Ingest,
		auth:   authenticator{key: cfg.AuthKey, adminKey: cfg.AdminKey},
		jobs:   newJobRegistry(),
		logger: log.WithComponent("httpapi"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpSrv = &http.Server{Handler: mux}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	route := func(pattern string, level AuthLevel, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.auth.require(level, h))
	}

	route("POST /ingest/file", AuthRequired, s.handleIngestFile)
	route("POST /ingest/file-async", AuthRequired, s.handleIngestFileAsync)
	route("GET /ingest/file-async/{id}", AuthNone, s.handleIngestFileAsyncStatus)
	route("DELETE /ingest/file-async/{id}", AuthRequired, s.handleIngestFileAsyncCancel)
	route("GET /ingest/file-async/trans/{id}", AuthNone, s.handleIngestTransStatus)
	route("DELETE /ingest/file-async/trans/{id}", AuthRequired, s.handleIngestTransCancel)

	route("POST /ingest/trans", AuthRequired, s.handleIngestTransCreate)
	route("GET /ingest/trans", AuthNone, s.handleIngestTransList)
	route("GET /ingest/trans/{id}", AuthNone, s.handleIngestTransGet)
	route("PUT /ingest/trans/{id}", AuthRequired, s.handleIngestTransUpdate)
	route("GET /ingest/chunks", AuthNone, s.handleIngestChunks)

	route("POST /replication/replicate", AuthAdmin, s.handleReplicate)
	route("POST /replication/purge", AuthAdmin, s.handlePurge)
	route("POST /replication/findall", AuthRequired, s.handleFindAll)
	route("POST /replication/move", AuthAdmin, s.handleMove)
	route("POST /replication/rebalance", AuthAdmin, s.handleRebalance)
	route("POST /replication/sql", AuthRequired, s.handleSql)
	route("POST /replication/health", AuthNone, s.handleClusterHealth)
	route("GET /replication/jobs/{id}", AuthNone, s.handleJobStatus)
	route("DELETE /replication/jobs/{id}", AuthRequired, s.handleJobCancel)
	route("GET /replication/jobs/{id}/watch", AuthNone, s.handleJobWatch)

	route("POST /qserv/sync", AuthAdmin, s.handleQservSync)
	route("POST /qserv/status", AuthRequired, s.handleQservStatus)
	route("GET /qserv/status/{id}", AuthNone, s.handleQservStatusResult)
}

// Handler returns the server's route mux, for embedding behind a
// custom listener (tests, or a process serving TLS itself).
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start begins serving addr; it blocks until Shutdown is called or
// the listener fails.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("httpapi listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
