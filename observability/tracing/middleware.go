package tracing

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes identifying the billing resource a request addressed.
const (
	AttrScheduleID     = attribute.Key("billing.schedule_id")
	AttrSubscriptionID = attribute.Key("billing.subscription_id")
	AttrRequestID      = attribute.Key("http.request_id")
)

// resourceRoutes maps a route segment to the attribute its {id} value is
// recorded under.
var resourceRoutes = []struct {
	segment string
	key     attribute.Key
}{
	{"/schedules/{id}", AttrScheduleID},
	{"/subscriptions/{id}", AttrSubscriptionID},
}

// SpanMiddleware starts a server span per request, continuing any trace
// carried in the incoming headers. When next is a ServeMux the span is
// renamed to the matched pattern and the schedule or subscription id from the
// path is recorded as an attribute, so ids never end up in span names.
func SpanMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.GetTracerProvider().Tracer("schedulesync.http")
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
				semconv.ServerAddress(r.Host),
				attribute.String("http.scheme", scheme(r)),
			),
		)
		defer span.End()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rw, req)

		if req.Pattern != "" {
			span.SetName(req.Pattern)
			span.SetAttributes(semconv.HTTPRoute(req.Pattern))
			span.SetAttributes(resourceAttributes(req)...)
		}
		if id := w.Header().Get("X-Request-ID"); id != "" {
			span.SetAttributes(AttrRequestID.String(id))
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(rw.statusCode))
		if rw.statusCode >= 400 {
			span.SetAttributes(attribute.Bool("error", true))
		}
		// Client errors are the caller's fault; only 5xx marks the server span failed.
		if rw.statusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

func resourceAttributes(r *http.Request) []attribute.KeyValue {
	id := r.PathValue("id")
	if id == "" {
		return nil
	}
	for _, rt := range resourceRoutes {
		if strings.Contains(r.Pattern, rt.segment) {
			return []attribute.KeyValue{rt.key.String(id)}
		}
	}
	return nil
}

// responseWriter records the status code written by the wrapped handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
