package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/aard-ai/aard/pkg/apierrors"
)

func TestMapCoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "invalid request maps to 400",
			err:        apierrors.New(apierrors.KindInvalidRequest, "text is required"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "text is required",
		},
		{
			name:       "invalid request naming not found maps to 404",
			err:        apierrors.Wrap(apierrors.KindInvalidRequest, "workflow not found: wf-1", fmt.Errorf("no rows")),
			expectCode: http.StatusNotFound,
		},
		{
			name:       "invalid transition maps to 409",
			err:        apierrors.New(apierrors.KindInvalidTransition, "cannot advance from COMPLETED"),
			expectCode: http.StatusConflict,
		},
		{
			name:       "quota exceeded maps to 429",
			err:        apierrors.New(apierrors.KindQuotaExceeded, "quota exceeded: llm_requests.per_minute"),
			expectCode: http.StatusTooManyRequests,
		},
		{
			name:       "model timeout maps to 504",
			err:        apierrors.New(apierrors.KindModelTimeout, "operation exceeded governor timeout"),
			expectCode: http.StatusGatewayTimeout,
		},
		{
			name:       "model unavailable maps to 503",
			err:        apierrors.New(apierrors.KindModelUnavailable, "no active server hosts model x"),
			expectCode: http.StatusServiceUnavailable,
		},
		{
			name:       "sandbox violation maps to 403",
			err:        apierrors.New(apierrors.KindSandboxViolation, "requested memory exceeds cap"),
			expectCode: http.StatusForbidden,
		},
		{
			name:       "internal error maps to 500 and hides detail",
			err:        apierrors.Wrap(apierrors.KindInternal, "insert execution event", fmt.Errorf("connection reset")),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
		{
			name:       "unwrapped error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapCoreError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			if tt.expectMsg != "" {
				assert.Contains(t, he.Error(), tt.expectMsg)
			}
		})
	}
}
