package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/contractbilling/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func newLoggedEngine(errorType string, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ErrorClassifier: func(err error) (string, string) { return errorType, errorType },
	}))
	r.Use(func(c *gin.Context) {
		c.Set(obscontext.OperationKey, "plan_change.submit")
		c.Next()
	})
	r.POST("/api/contracts/:id/plan-changes", handler)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestGinMiddlewareLogsOperationAndContract(t *testing.T) {
	logs := observeGlobal(t)
	r := newLoggedEngine("", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	req := httptest.NewRequest(http.MethodPost, "/api/contracts/77/plan-changes", nil)
	req.Header.Set("X-Request-Id", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get("X-Request-Id"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "plan_change.submit", fields["operation"])
	assert.Equal(t, "77", fields["contract_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, int64(http.StatusAccepted), fields["status"])
}

func TestGinMiddlewareLevels(t *testing.T) {
	cases := []struct {
		name      string
		errorType string
		status    int
		want      zapcore.Level
	}{
		{"notice period", "notice_period_violation", http.StatusUnprocessableEntity, zapcore.WarnLevel},
		{"pending change", "conflicting_change_exists", http.StatusConflict, zapcore.WarnLevel},
		{"validation", "validation_error", http.StatusBadRequest, zapcore.WarnLevel},
		{"not found", "not_found", http.StatusNotFound, zapcore.InfoLevel},
		{"storage", "internal_error", http.StatusInternalServerError, zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs := observeGlobal(t)
			r := newLoggedEngine(tc.errorType, func(c *gin.Context) {
				_ = c.Error(errors.New(tc.errorType))
				c.AbortWithStatus(tc.status)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/contracts/77/plan-changes", nil))

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tc.want, entry.Level)
			assert.Equal(t, tc.errorType, entry.ContextMap()["error_type"])
		})
	}
}

func TestGinMiddlewareLogsHealthAtDebug(t *testing.T) {
	logs := observeGlobal(t)
	r := newLoggedEngine("", func(c *gin.Context) {})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
}
