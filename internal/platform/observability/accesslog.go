package observability

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/platform/requestctx"
)

const (
	defaultIdempotencyHeader = "Idempotency-Key"
	idempotentReplayHeader   = "X-Idempotent-Replay"
)

// resourceParams maps chi path parameters onto the log fields used to correlate
// an access line with the order, payment and inventory events it produced.
var resourceParams = []struct {
	param string
	field string
}{
	{"orderID", "order_id"},
	{"transactionRef", "transaction_ref"},
	{"productID", "product_id"},
	{"gateway", "gateway"},
}

type accessLogConfig struct {
	idempotencyHeader string
}

// AccessLogOption customises AccessLogMiddleware.
type AccessLogOption func(*accessLogConfig)

// WithIdempotencyHeader names the request header carrying the client idempotency key.
func WithIdempotencyHeader(name string) AccessLogOption {
	return func(cfg *accessLogConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.idempotencyHeader = name
		}
	}
}

// AccessLogMiddleware writes one completion line per request. The route pattern and the
// order, transaction, product and gateway path parameters are read after routing so the
// line names the resource the request touched. Mutating calls also carry their
// idempotency key and whether the response was replayed.
func AccessLogMiddleware(opts ...AccessLogOption) func(http.Handler) http.Handler {
	cfg := accessLogConfig{idempotencyHeader: defaultIdempotencyHeader}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)
			logger := requestctx.Logger(ctx).With(
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", cleanLogValue(r.Method, 10)),
				zap.String("trace_id", traceInfo.TraceID),
				zap.String("actor_id", cleanLogValue(requestctx.Actor(ctx), 64)),
			)
			if traceInfo.ProjectID != "" && traceInfo.TraceID != "" {
				logger = logger.With(zap.String("logging.googleapis.com/trace",
					fmt.Sprintf("projects/%s/traces/%s", traceInfo.ProjectID, traceInfo.TraceID)))
			}
			if ip := remoteIP(r); ip != "" {
				logger = logger.With(zap.String("remote_ip", ip))
			}
			if key := cleanLogValue(r.Header.Get(cfg.idempotencyHeader), 64); key != "" {
				logger = logger.With(zap.String("idempotency_key", key))
			}
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			recorder := newResponseRecorder(w)
			start := time.Now()
			panicked := true
			defer func() {
				status := recorder.Status()
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				route := routePattern(r)

				fields := make([]zap.Field, 0, 10)
				fields = append(fields,
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int64("bytes", recorder.BytesWritten()),
				)
				fields = append(fields, resourceFields(r)...)
				if recorder.Header().Get(idempotentReplayHeader) == "true" {
					fields = append(fields, zap.Bool("idempotent_replay", true))
				}

				if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
					span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
					setSpanStatus(span, status)
				}

				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(recorder, r)
			panicked = false
		})
	}
}

func resourceFields(r *http.Request) []zap.Field {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	var fields []zap.Field
	for _, p := range resourceParams {
		if v := cleanLogValue(rctx.URLParam(p.param), 64); v != "" {
			fields = append(fields, zap.String(p.field, v))
		}
	}
	return fields
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return cleanLogValue(pattern, 180)
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return cleanLogValue(r.URL.Path, 180)
	}
	return "/"
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return cleanLogValue(addr, 64)
}

// cleanLogValue drops control characters from caller-controlled values and bounds their length.
func cleanLogValue(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(value))
	if runes := []rune(value); len(runes) > limit {
		value = string(runes[:limit])
	}
	return value
}
