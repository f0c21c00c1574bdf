package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/orderflow/internal/platform/requestctx"
)

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	log := EventLogger(zap.New(fallbackCore))

	log(context.Background(), "coupon.applied", map[string]any{"order_id": uint64(4)})
	if fallbackLogs.Len() != 1 {
		t.Fatalf("expected fallback logger to receive event, got %d", fallbackLogs.Len())
	}

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "order.status_changed", map[string]any{"error": errors.New("boom")})
	if requestLogs.Len() != 1 || fallbackLogs.Len() != 1 {
		t.Fatalf("expected request logger to win, got request=%d fallback=%d", requestLogs.Len(), fallbackLogs.Len())
	}
	entry := requestLogs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected events carrying an error to log at warn, got %s", entry.Level)
	}
	if entry.ContextMap()["event"] != "order.status_changed" {
		t.Fatalf("expected event field, got %v", entry.ContextMap())
	}
}

func TestAccessLogMiddlewareFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(TraceMiddleware("orderflow-test"))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithActor(r.Context(), "staff-\x007")))
		})
	})
	router.Use(AccessLogMiddleware())
	router.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/42", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if !strings.HasPrefix(rec.Header().Get("traceparent"), "00-4bf92f3577b34da6a3ce929d0e0e4736-") {
		t.Fatalf("expected trace to be propagated, got %q", rec.Header().Get("traceparent"))
	}

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion log, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected 4xx to log at warn, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/api/v1/orders/{orderID}" {
		t.Fatalf("expected route pattern resolved after routing, got %v", fields["route"])
	}
	if fields["order_id"] != "42" {
		t.Fatalf("expected order id from path, got %v", fields["order_id"])
	}
	if _, ok := fields["idempotency_key"]; ok {
		t.Fatalf("expected no idempotency key on a plain read, got %v", fields["idempotency_key"])
	}
	if fields["actor_id"] != "staff-7" {
		t.Fatalf("expected sanitized actor id, got %q", fields["actor_id"])
	}
	if fields["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected trace id from traceparent, got %v", fields["trace_id"])
	}
	if fields["logging.googleapis.com/trace"] != "projects/orderflow-test/traces/4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected cloud logging trace resource, got %v", fields["logging.googleapis.com/trace"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected status field 404, got %v", fields["status"])
	}
}

func TestAccessLogMiddlewarePaymentRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(AccessLogMiddleware(WithIdempotencyHeader("X-Request-Key")))
	router.Post("/payments/{transactionRef}/refunds", func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("refund handled")
		w.Header().Set("X-Idempotent-Replay", "true")
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/payments/01JREFA/refunds", nil)
	req.Header.Set("X-Request-Key", "refund-\n77")
	router.ServeHTTP(httptest.NewRecorder(), req)

	handled := logs.FilterMessage("refund handled").All()
	if len(handled) != 1 || handled[0].ContextMap()["idempotency_key"] != "refund-77" {
		t.Fatalf("expected handler logs to carry the idempotency key, got %+v", handled)
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion log, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["transaction_ref"] != "01JREFA" || fields["route"] != "/payments/{transactionRef}/refunds" {
		t.Fatalf("expected payment resource fields, got %v", fields)
	}
	if fields["idempotent_replay"] != true {
		t.Fatalf("expected replay flag, got %v", fields["idempotent_replay"])
	}
	if completed[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected 2xx to log at info, got %s", completed[0].Level)
	}
}

func TestAccessLogMiddlewareLogsPanicsAsServerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RecoveryMiddleware(zap.New(core)))
	router.Use(AccessLogMiddleware())
	router.Post("/inventory/products/{productID}/stock", func(http.ResponseWriter, *http.Request) {
		panic("ledger replay failed")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/products/9/stock", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error-level completion log, got %+v", completed)
	}
	fields := completed[0].ContextMap()
	if fields["status"] != int64(http.StatusInternalServerError) || fields["product_id"] != "9" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestCleanLogValue(t *testing.T) {
	if got := cleanLogValue("  ord\x1b[31mer\t ", 64); got != "ord[31mer" {
		t.Fatalf("expected control characters stripped, got %q", got)
	}
	if got := cleanLogValue("日本語テキスト", 3); got != "日本語" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("stock ledger corrupted")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"internal_server_error"`) {
		t.Fatalf("expected JSON error body, got %s", rec.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	info, spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" || !info.Sampled {
		t.Fatalf("unexpected trace info %+v", info)
	}
	if !spanCtx.IsValid() || !spanCtx.IsRemote() {
		t.Fatalf("expected valid remote span context")
	}
	if _, _, ok := parseCloudTraceContext("not-a-trace"); ok {
		t.Fatal("expected malformed header to be rejected")
	}
}
