package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// Identity headers set by the edge after authentication. Token
// verification itself happens upstream; the gateway trusts these.
const (
	headerRequestID = "X-Request-ID"
	headerTenantID  = "X-Tenant-ID"
	headerUserID    = "X-User-ID"
	headerOperator  = "X-Operator-ID"
)

// identity decodes the request identity. Some endpoints also carry
// tenantId in the body for edge proxies that cannot set headers; the
// handler merges that in before requireTenant runs.
func identity(r *http.Request) models.RequestContext {
	rc := models.RequestContext{
		RequestID:  r.Header.Get(headerRequestID),
		TenantID:   r.Header.Get(headerTenantID),
		UserID:     r.Header.Get(headerUserID),
		OperatorID: r.Header.Get(headerOperator),
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if rc.RequestID == "" {
		rc.RequestID = uuid.NewString()
	}
	return rc
}

func requireTenant(rc models.RequestContext) error {
	if rc.TenantID == "" {
		return apperr.New(apperr.KindUnauthorized, "MISSING_TENANT", "tenant identity is required")
	}
	return nil
}

// statusRecorder captures the status code for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logging wraps a handler with correlation context and an access line.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = observability.WithRequestID(ctx, requestID)
		if tenant := r.Header.Get(headerTenantID); tenant != "" {
			ctx = observability.WithTenantID(ctx, tenant)
		}
		if user := r.Header.Get(headerUserID); user != "" {
			ctx = observability.WithUserID(ctx, user)
		}
		w.Header().Set(headerRequestID, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		if s.tracer != nil {
			var span trace.Span
			ctx, span = s.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				attribute.String("request_id", requestID))
			defer observability.EndSpan(span, nil)
		}
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.logger.Info(ctx, "http request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(started).Milliseconds())
	})
}
