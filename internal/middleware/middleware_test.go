package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aditya/ride-dispatch/internal/auth"
	"github.com/aditya/ride-dispatch/internal/logging"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAuthenticateAndRequireRole(t *testing.T) {
	jwt := auth.NewJWTManager("test-secret", time.Hour)
	driverToken, _ := jwt.GenerateToken(models.Actor{ID: "d1", Role: models.RoleDriver})
	clientToken, _ := jwt.GenerateToken(models.Actor{ID: "c1", Role: models.RoleClient})

	var seen models.Actor
	h := Authenticate(jwt)(RequireRole(models.RoleDriver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + clientToken, http.StatusForbidden},
		{"driver", "Bearer " + driverToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/drivers/me/online", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seen.ID != "d1" {
		t.Errorf("actor on context = %+v, want d1", seen)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(newRedis(t), 2, time.Minute, logging.Discard())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/orders/active", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	m := NewIdempotencyMiddleware(newRedis(t), logging.Discard())

	var calls atomic.Int32
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"o1"}`))
	}))

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(body))
		req.Header.Set(IdempotencyHeader, "key-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send(`{"car_class":"ECONOMY"}`)
	second := send(`{"car_class":"ECONOMY"}`)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("codes = %d, %d", first.Code, second.Code)
	}
	if second.Body.String() != `{"id":"o1"}` || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Errorf("replay = %q (%v)", second.Body.String(), second.Header())
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}

	if conflict := send(`{"car_class":"XL"}`); conflict.Code != http.StatusConflict {
		t.Errorf("reused key with another body = %d, want 409", conflict.Code)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
