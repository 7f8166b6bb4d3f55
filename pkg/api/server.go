// Package api implements the External Interface Layer (spec §4.10): the
// HTTP/WebSocket surface through which a caller submits a request,
// polls or streams workflow state, reads plan status, and decides a
// pending approval.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/aard-ai/aard/pkg/approval"
	"github.com/aard-ai/aard/pkg/config"
	"github.com/aard-ai/aard/pkg/database"
	"github.com/aard-ai/aard/pkg/journal"
	"github.com/aard-ai/aard/pkg/pipeline"
	"github.com/aard-ai/aard/pkg/plan"
	"github.com/aard-ai/aard/pkg/version"
)

// Server is the HTTP API server fronting the orchestration core.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg        *config.Config
	db         *database.Client
	machine    *pipeline.Machine
	plans      *plan.Store
	approvals  *approval.Gate
	journalSvc *journal.Service
}

// NewServer wires every dependency the six spec-mandated endpoints need
// and registers routes. Unlike the teacher's MCP/chat optionals, none of
// these are legitimately optional: a missing one means the process isn't
// ready to serve traffic, so the constructor takes them all up front
// rather than through Set* calls and a ValidateWiring pass.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	machine *pipeline.Machine,
	plans *plan.Store,
	approvals *approval.Gate,
	journalSvc *journal.Service,
) *Server {
	e := echo.New()

	s := &Server{
		echo:       e,
		cfg:        cfg,
		db:         db,
		machine:    machine,
		plans:      plans,
		approvals:  approvals,
		journalSvc: journalSvc,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers the External Interface Layer's full surface.
// Routes are unprefixed at their literal spec paths — a deliberate
// deviation from the teacher's /api/v1 convention, since spec §6 fixes
// the contract as POST /request, GET /workflow/{id}, etc.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(s.cfg.Server.BodyLimit))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	s.echo.POST("/request", s.createWorkflowHandler)
	s.echo.GET("/workflow/:id", s.getWorkflowHandler)
	s.echo.GET("/workflow/:id/events", s.getWorkflowEventsHandler)
	s.echo.GET("/workflow/:id/stream", s.workflowStreamHandler)

	s.echo.GET("/plan/:id", s.getPlanHandler)

	s.echo.POST("/approval/:request_id/decide", s.decideApprovalHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := "healthy"

	if _, err := database.Health(reqCtx, s.db.Pool); err != nil {
		status = "unhealthy"
		checks["database"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: "healthy"}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
