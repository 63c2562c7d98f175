package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func tag(name string, order *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestWrap(t *testing.T) {
	var order []string
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), tag("outer", &order), tag("inner", &order))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"missing", "", false},
		{"valid", "till-7-0001", true},
		{"too long", strings.Repeat("a", 129), false},
		{"control chars", "abc\x01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
			if tt.reuse {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.Len(t, seen, 36)
			}
		})
	}
}

func newObservedRouter(t *testing.T) (http.Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Get("/sales/{id}", func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Fetching sale", zap.String("id", chi.URLParam(r, "id")))
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("drawer exploded")
	})

	return Wrap(r, RequestID(), InjectLogger(zap.New(core)), LogRequests(), Recovery()), logs
}

func TestInjectLogger_TagsRequestID(t *testing.T) {
	h, logs := newObservedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sales/s-1", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("Fetching sale").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "s-1", fields["id"])
}

func TestLogRequests_RoutePattern(t *testing.T) {
	h, logs := newObservedRouter(t)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sales/s-1", nil))

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/sales/{id}", fields["route"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
}

func TestRecovery(t *testing.T) {
	h, logs := newObservedRouter(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":500,"message":"internal error"}`, w.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())

	req := logs.FilterMessage("Request").All()
	require.Len(t, req, 1)
	assert.Equal(t, zapcore.WarnLevel, req[0].Level)
}

func TestInstrument_NamesSpanAfterRoute(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	r := chi.NewRouter()
	r.Post("/drawers/{id}/close", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Instrument("pos-api", tp, noop.NewMeterProvider())(r)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/drawers/d-1/close", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /drawers/{id}/close", spans[0].Name())
}

func TestInstrument_UnmatchedRouteKeepsOperation(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	r := chi.NewRouter()
	r.Get("/sales/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Instrument("pos-api", tp, noop.NewMeterProvider())(r)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/unknown", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pos-api", spans[0].Name())
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	tests := []struct {
		name      string
		cfg       CORSConfig
		method    string
		origin    string
		preflight bool
		code      int
		allow     string
	}{
		{"any origin", CORSConfig{}, http.MethodGet, "https://till.example", false, http.StatusOK, "*"},
		{"listed origin case-insensitive", CORSConfig{AllowOrigins: []string{"https://Till.example"}}, http.MethodGet, "https://till.example", false, http.StatusOK, "https://Till.example"},
		{"unlisted origin", CORSConfig{AllowOrigins: []string{"https://till.example"}}, http.MethodGet, "https://evil.example", false, http.StatusOK, ""},
		{"credentials echo origin", CORSConfig{AllowCredentials: true}, http.MethodGet, "https://till.example", false, http.StatusOK, "https://till.example"},
		{"preflight", CORSConfig{MaxAge: 600}, http.MethodOptions, "https://till.example", true, http.StatusNoContent, "*"},
		{"preflight rejected", CORSConfig{AllowOrigins: []string{"https://till.example"}}, http.MethodOptions, "https://evil.example", true, http.StatusNoContent, ""},
		{"no origin", CORSConfig{}, http.MethodGet, "", false, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/sales", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			CORS(tt.cfg)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.allow, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.preflight && tt.allow != "" {
				assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "api_key")
				assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
			}
			if !tt.preflight && tt.allow != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
			}
		})
	}
}
