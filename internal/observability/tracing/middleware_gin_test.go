package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/contractbilling/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func newTracedEngine(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		Operations: map[string]string{
			"POST /api/contracts/:id/plan-changes": "plan_change.submit",
		},
		ErrorClassifier: func(err error) (string, string) {
			return "conflicting_change_exists", "conflicting_change_exists"
		},
	}))
	r.Use(func(c *gin.Context) {
		ctx := obscontext.WithOrgID(c.Request.Context(), "1001")
		ctx = obscontext.WithActor(ctx, "user", "42")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.POST("/api/contracts/:id/plan-changes", handler)
	return r
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestGinMiddlewareNamesSpanAfterOperation(t *testing.T) {
	recorder := recordSpans(t)
	var operation string
	r := newTracedEngine(func(c *gin.Context) {
		operation = c.GetString(obscontext.OperationKey)
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/contracts/77/plan-changes", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "plan_change.submit", operation)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "plan_change.submit", span.Name())

	got := attrs(span)
	assert.Equal(t, "plan_change.submit", got["contractbilling.operation"].AsString())
	assert.Equal(t, "77", got["contract_id"].AsString())
	assert.Equal(t, "1001", got["org_id"].AsString())
	assert.Equal(t, "user", got["actor.type"].AsString())
	assert.Equal(t, "42", got["actor.id"].AsString())
	assert.Equal(t, int64(http.StatusAccepted), got["http.status_code"].AsInt64())
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestGinMiddlewareRecordsRejectionWithoutFailingSpan(t *testing.T) {
	recorder := recordSpans(t)
	r := newTracedEngine(func(c *gin.Context) {
		_ = c.Error(errors.New("conflicting_change_exists"))
		c.AbortWithStatus(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/contracts/77/plan-changes", nil))
	require.Equal(t, http.StatusConflict, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "conflicting_change_exists", attrs(span)["error.type"].AsString())
	assert.Equal(t, codes.Unset, span.Status().Code)
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "request.rejected", span.Events()[0].Name)
}

func TestGinMiddlewareFailsSpanOnServerError(t *testing.T) {
	recorder := recordSpans(t)
	r := newTracedEngine(func(c *gin.Context) {
		_ = c.Error(errors.New("storage down"))
		c.AbortWithStatus(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/contracts/77/plan-changes", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
