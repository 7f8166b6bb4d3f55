package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/aard-ai/aard/pkg/models"
	"github.com/aard-ai/aard/pkg/pipeline"
)

// createWorkflowHandler handles POST /request: accepts user text plus
// optional overrides and starts a new workflow, returning immediately
// with its workflow_id (spec §4.1 "start(request) → workflow_id").
func (s *Server) createWorkflowHandler(c *echo.Context) error {
	var req models.CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	start := pipeline.StartRequest{
		SessionID:       sessionID,
		OriginalRequest: req.Text,
	}
	if req.Options != nil {
		if req.Options.AutonomyLevel != nil {
			start.AutonomyLevel = *req.Options.AutonomyLevel
		}
		start.ModelRef = req.Options.ModelRef
		start.ServerRef = req.Options.ServerRef
		start.TaskType = req.Options.TaskType
	}

	wf, err := s.machine.Start(c.Request().Context(), start)
	if err != nil {
		return mapCoreError(err)
	}

	return c.JSON(http.StatusAccepted, &models.CreateWorkflowResponse{
		WorkflowID: wf.WorkflowID,
		Status:     string(wf.CurrentState),
	})
}

// getWorkflowHandler handles GET /workflow/{id}: current state and stage.
func (s *Server) getWorkflowHandler(c *echo.Context) error {
	id := c.Param("id")
	wf, err := s.machine.Get(c.Request().Context(), id)
	if err != nil {
		return mapCoreError(err)
	}

	return c.JSON(http.StatusOK, &models.WorkflowStatusResponse{
		WorkflowID:   wf.WorkflowID,
		SessionID:    wf.SessionID,
		CurrentStage: wf.CurrentStage,
		CurrentState: wf.CurrentState,
		StartedAt:    wf.CreatedAt,
		TerminatedAt: wf.TerminatedAt,
		Summary:      wf.Summary,
	})
}

// getWorkflowEventsHandler handles GET /workflow/{id}/events: paginated
// execution event history. Goes straight to journalSvc.ByWorkflow
// (promoted from the embedded *journal.Journal) rather than
// Machine.History, since History doesn't support after_id/limit.
func (s *Server) getWorkflowEventsHandler(c *echo.Context) error {
	id := c.Param("id")

	filter := models.EventFilter{WorkflowID: id, AfterID: c.QueryParam("after_id")}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		filter.Limit = limit
	}

	events, err := s.journalSvc.ByWorkflow(c.Request().Context(), filter)
	if err != nil {
		return mapCoreError(err)
	}

	return c.JSON(http.StatusOK, &models.EventsResponse{Events: events})
}

// workflowStreamHandler handles WS /workflow/{id}/stream: upgrades to a
// WebSocket and pushes ExecutionEvent frames for this workflow as they
// are appended, replaying any catchup first.
func (s *Server) workflowStreamHandler(c *echo.Context) error {
	id := c.Param("id")
	if _, err := s.machine.Get(c.Request().Context(), id); err != nil {
		return mapCoreError(err)
	}

	opts := &wsAcceptOptions{allowedOrigins: s.cfg.Server.AllowedWSOrigins}
	conn, err := acceptWebSocket(c, opts)
	if err != nil {
		return err
	}

	s.journalSvc.ServeWorkflowWS(c.Request().Context(), conn, id)
	return nil
}
