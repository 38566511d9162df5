package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMetrics holds the request instruments of the ingest API
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	uploaded metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTP metrics instruments
func NewHTTPMetrics() (*HTTPMetrics, error) {
	meter := otel.Meter(instrumentationName)

	requests, err := meter.Int64Counter(
		"mediaindex.http.requests",
		metric.WithDescription("HTTP requests by route and status"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram(
		"mediaindex.http.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	uploaded, err := meter.Int64Histogram(
		"mediaindex.http.upload_size",
		metric.WithDescription("Declared size of request bodies sent for ingestion"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"mediaindex.http.in_flight",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requests: requests,
		latency:  latency,
		uploaded: uploaded,
		inFlight: inFlight,
	}, nil
}

// statusRecorder remembers the status code and body size a handler wrote
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMiddleware traces every request and, when metrics is non-nil, records
// request metrics. Spans and metrics are keyed by the chi route template
// rather than the raw URL, so media ids never become label values.
func HTTPMiddleware(serviceName string, metrics *HTTPMetrics) func(http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("http.scheme", scheme(r)),
					attribute.String("net.peer.ip", r.RemoteAddr),
					attribute.String("service.name", serviceName),
				),
			)
			defer span.End()

			method := attribute.String("http.method", r.Method)
			if metrics != nil {
				metrics.inFlight.Add(ctx, 1, metric.WithAttributes(method))
				defer metrics.inFlight.Add(ctx, -1, metric.WithAttributes(method))
			}

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(rw, r.WithContext(ctx))

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.status),
				attribute.Int64("http.response_content_length", rw.size),
			)
			// 4xx is a rejected upload, not a server fault
			if rw.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			if metrics == nil {
				return
			}
			attrs := metric.WithAttributes(
				method,
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.status),
			)
			if r.Method == http.MethodPost && r.ContentLength > 0 {
				metrics.uploaded.Record(ctx, r.ContentLength, attrs)
			}
			metrics.latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
			metrics.requests.Add(ctx, 1, attrs)
		})
	}
}

// AnnotateErrorKind tags the request span with the ingestion error kind the
// response reports
func AnnotateErrorKind(r *http.Request, kind string, retryable bool) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("mediaindex.error_kind", kind),
		attribute.Bool("mediaindex.retryable", retryable),
	)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if s := r.Header.Get("X-Forwarded-Proto"); s != "" {
		return s
	}
	return "http"
}
