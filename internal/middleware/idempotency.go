package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aditya/ride-dispatch/internal/auth"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/pkg/utils"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	idempotencyPrefix = "idempotency:"
	idempotencyLock   = 30 * time.Second
)

// IdempotencyMiddleware replays the stored response of a POST that carried an
// Idempotency-Key already seen for the same actor. Order creation and claims
// retried by a flaky mobile client hit the service once.
type IdempotencyMiddleware struct {
	redis  *redis.Client
	logger *slog.Logger
}

type cachedResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
	BodyHash   string            `json:"body_hash"`
}

func NewIdempotencyMiddleware(redisClient *redis.Client, logger *slog.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{redis: redisClient, logger: logger}
}

// responseWriter captures the response for caching
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (m *IdempotencyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}

		idempotencyKey := r.Header.Get(IdempotencyHeader)
		if idempotencyKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			utils.BadRequest(w, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		bodyHash := hashBody(r.Method, r.URL.Path, bodyBytes)
		cacheKey := idempotencyPrefix + scope(r) + ":" + idempotencyKey
		ctx := r.Context()

		cached, err := m.getCachedResponse(ctx, cacheKey)
		if err == nil {
			if cached.BodyHash != bodyHash {
				utils.Error(w, apperrors.IdempotencyConflict())
				return
			}

			for k, v := range cached.Headers {
				w.Header().Set(k, v)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		}
		if err != redis.Nil {
			m.logger.Warn("idempotency lookup failed, serving without replay", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		lockKey := cacheKey + ":lock"
		locked, err := m.redis.SetNX(ctx, lockKey, "1", idempotencyLock).Result()
		if err != nil || !locked {
			utils.Error(w, apperrors.NewAPIError("request_in_progress",
				"a request with this idempotency key is already being processed", http.StatusConflict))
			return
		}
		defer m.redis.Del(context.WithoutCancel(ctx), lockKey)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// Only 2xx responses are replayed.
		if rw.statusCode >= 200 && rw.statusCode < 300 {
			cached := cachedResponse{
				StatusCode: rw.statusCode,
				Headers:    map[string]string{"Content-Type": rw.Header().Get("Content-Type")},
				Body:       rw.body.Bytes(),
				BodyHash:   bodyHash,
			}

			data, _ := json.Marshal(cached)
			if err := m.redis.Set(context.WithoutCancel(ctx), cacheKey, data, idempotencyTTL).Err(); err != nil {
				m.logger.Warn("store idempotent response", "error", err)
			}
		}
	})
}

func (m *IdempotencyMiddleware) getCachedResponse(ctx context.Context, key string) (*cachedResponse, error) {
	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	return &cached, nil
}

// scope keeps keys of different actors apart.
func scope(r *http.Request) string {
	if actor, ok := auth.ActorFrom(r.Context()); ok {
		return actor.ID
	}
	return "anonymous"
}

func hashBody(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + " " + path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
