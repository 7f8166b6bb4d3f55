package api

import (
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/aard-ai/aard/pkg/apierrors"
)

// mapCoreError maps an *apierrors.Error (or anything KindOf can resolve)
// to the HTTP status spec §6 assigns its taxonomy Kind. Kind has no
// distinct not-found entry — Machine.Get, plan.Store.Get, and
// approval.Store.Decide all signal a missing row as KindInvalidRequest
// with "not found" in the message, so that case is special-cased ahead
// of the general InvalidRequest→400 mapping.
func mapCoreError(err error) *echo.HTTPError {
	kind := apierrors.KindOf(err)
	msg := err.Error()

	if kind == apierrors.KindInvalidRequest && strings.Contains(msg, "not found") {
		return echo.NewHTTPError(http.StatusNotFound, msg)
	}

	switch kind {
	case apierrors.KindInvalidRequest, apierrors.KindValidationFailed:
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	case apierrors.KindPromptNotFound:
		return echo.NewHTTPError(http.StatusNotFound, msg)
	case apierrors.KindInvalidTransition, apierrors.KindApprovalRejected, apierrors.KindApprovalTimeout, apierrors.KindCancelled:
		return echo.NewHTTPError(http.StatusConflict, msg)
	case apierrors.KindToolDenied, apierrors.KindSandboxViolation:
		return echo.NewHTTPError(http.StatusForbidden, msg)
	case apierrors.KindModelUnavailable, apierrors.KindDependencyNotReady:
		return echo.NewHTTPError(http.StatusServiceUnavailable, msg)
	case apierrors.KindModelTimeout:
		return echo.NewHTTPError(http.StatusGatewayTimeout, msg)
	case apierrors.KindQuotaExceeded:
		return echo.NewHTTPError(http.StatusTooManyRequests, msg)
	case apierrors.KindCheckpointCorrupt, apierrors.KindInternal:
		slog.Error("internal orchestration error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	default:
		slog.Error("unclassified orchestration error", "error", err, "kind", kind)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
