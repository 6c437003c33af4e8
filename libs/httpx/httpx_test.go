package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

func TestWriteErrorUsesTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{domain.FieldError("date", "must be a date"), http.StatusUnprocessableEntity, "validation"},
		{domain.NotFound("provider not found"), http.StatusNotFound, "not_found"},
		{domain.InvalidState("cannot confirm"), http.StatusConflict, "invalid_state"},
		{domain.SlotUnavailable("slot taken"), http.StatusUnprocessableEntity, "conflict"},
		{errors.New("db exploded"), http.StatusInternalServerError, "unknown"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		WriteError(rec, req, nil, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["kind"] != tc.kind {
			t.Fatalf("%v: expected kind %s, got %v", tc.err, tc.kind, body["kind"])
		}
		if strings.Contains(rec.Body.String(), "exploded") {
			t.Fatalf("internal error text leaked: %s", rec.Body.String())
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1,"b":2}`))
	var dst struct {
		A int `json:"a"`
	}
	if err := DecodeJSON(req, &dst); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIdentityFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := IdentityFromRequest(req); !domain.IsKind(err, domain.KindAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	SetIdentityHeaders(req, Identity{UserID: "u1", Role: "Provider", ProviderID: "p1"})
	id, err := IdentityFromRequest(req)
	if err != nil {
		t.Fatalf("IdentityFromRequest: %v", err)
	}
	if !id.IsProvider() || id.ProviderID != "p1" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestWithRequestIDKeepsIncomingHeader(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get(RequestIDHeader) != "abc" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}

	out, _ := http.NewRequest(http.MethodGet, "http://booking/", nil)
	PropagateRequestID(ContextWithRequestID(context.Background(), "xyz"), out)
	if out.Header.Get(RequestIDHeader) != "xyz" {
		t.Fatalf("expected outgoing request id")
	}
}

func TestMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "k"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Fatalf("third request should be limited")
	}
	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatalf("new window should pass")
	}
}

func TestRateLimitMiddlewareWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := RateLimit(NewRedisLimiter(rdb, 1, time.Minute, "test"), nil, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/portal/booking/submit", nil)
		req.Header.Set(SessionIDHeader, "s1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do(); code != http.StatusNoContent {
		t.Fatalf("first request: expected 204, got %d", code)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", code)
	}
	if !mr.Exists("test:session:s1") {
		t.Fatalf("expected window key in redis")
	}
}

func TestWithCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://portal.example"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/portal/booking/draft", nil)
	req.Header.Set("Origin", "https://portal.example")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://portal.example" {
		t.Fatalf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}
}
