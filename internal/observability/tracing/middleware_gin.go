package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/contractbilling/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// MiddlewareConfig names server spans after the contract operation they serve.
type MiddlewareConfig struct {
	// Operations maps "METHOD route" to an operation name, e.g.
	// "POST /api/contracts/:id/plan-changes" to "plan_change.submit".
	Operations map[string]string
	// ErrorClassifier returns the response error type and code of a failed request.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware instruments inbound HTTP requests. Rejected plan changes
// (4xx) are recorded as span events; only 5xx marks the span as failed.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	tracer := otel.Tracer("contractbilling/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		method := strings.ToUpper(c.Request.Method)
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		operation := cfg.Operations[method+" "+route]
		if operation != "" {
			c.Set(obscontext.OperationKey, operation)
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		name := "HTTP " + method + " " + route
		if operation != "" {
			name = operation
		}
		span.SetName(name)

		status := c.Writer.Status()
		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		if operation != "" {
			attrs = append(attrs, attribute.String("contractbilling.operation", operation))
		}
		if contractID := strings.TrimSpace(c.Param("id")); contractID != "" {
			attrs = append(attrs, attribute.String("contract_id", contractID))
		}
		// identity middleware runs inside this span and enriches the request context
		reqCtx := c.Request.Context()
		if orgID := obscontext.OrgIDFromContext(reqCtx); orgID != "" {
			attrs = append(attrs, attribute.String("org_id", orgID))
		}
		if actorType, actorID := obscontext.ActorFromContext(reqCtx); actorType != "" {
			attrs = append(attrs, attribute.String("actor.type", actorType), attribute.String("actor.id", actorID))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if lastErr := c.Errors.Last(); lastErr != nil && status >= http.StatusBadRequest {
			errorType, errorCode := "error", ""
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			span.SetAttributes(SafeAttributes(
				attribute.String("error.type", errorType),
				attribute.String("error.code", errorCode),
			)...)
			if status >= http.StatusInternalServerError {
				span.RecordError(SafeError(lastErr.Err))
				span.SetStatus(codes.Error, errorType)
			} else {
				span.AddEvent("request.rejected", trace.WithAttributes(attribute.String("error.type", errorType)))
			}
		} else if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}
