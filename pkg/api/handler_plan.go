package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aard-ai/aard/pkg/models"
)

// getPlanHandler handles GET /plan/{id}: read-only execution status for
// one plan, including its step DAG.
func (s *Server) getPlanHandler(c *echo.Context) error {
	id := c.Param("id")
	p, err := s.plans.Get(c.Request().Context(), id)
	if err != nil {
		return mapCoreError(err)
	}
	return c.JSON(http.StatusOK, &models.PlanResponse{Plan: p})
}
