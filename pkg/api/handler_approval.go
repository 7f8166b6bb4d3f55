package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aard-ai/aard/pkg/models"
)

// decideApprovalHandler handles POST /approval/{request_id}/decide: a
// human records an approve/reject decision on a pending approval
// request, unblocking (or failing) the waiting workflow.
func (s *Server) decideApprovalHandler(c *echo.Context) error {
	requestID := c.Param("request_id")

	var req models.DecideApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Actor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "actor is required")
	}

	decided, err := s.approvals.Decide(c.Request().Context(), requestID, req)
	if err != nil {
		return mapCoreError(err)
	}

	return c.JSON(http.StatusOK, &models.DecideApprovalResponse{
		RequestID: decided.RequestID,
		Status:    decided.Status,
	})
}
