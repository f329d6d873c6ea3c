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

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyPrefix = "idempotency:"
	idempotencyLock   = 30 * time.Second
)

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Keys are scoped to the caller and the request path.
type IdempotencyMiddleware struct {
	redis *redis.Client
	ttl   time.Duration
}

type cachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
	BodyHash   string `json:"body_hash"`
}

func NewIdempotencyMiddleware(redisClient *redis.Client, ttl time.Duration) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyMiddleware{redis: redisClient, ttl: ttl}
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
		key := r.Header.Get(IdempotencyHeader)
		if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch) {
			next.ServeHTTP(w, r)
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			utils.BadRequest(w, r, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		ctx := r.Context()
		bodyHash := hashBody(bodyBytes)
		cacheKey := m.cacheKey(r, key)

		if cached, err := m.getCachedResponse(ctx, cacheKey); err == nil {
			if cached.BodyHash != bodyHash {
				utils.Error(w, r, apperrors.IdempotencyConflict())
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		} else if err != redis.Nil {
			slog.WarnContext(ctx, "idempotency store unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		lockKey := cacheKey + ":lock"
		locked, err := m.redis.SetNX(ctx, lockKey, "1", idempotencyLock).Result()
		if err != nil || !locked {
			utils.Error(w, r, apperrors.ConcurrencyConflict("a request with this idempotency key is already being processed"))
			return
		}
		defer m.redis.Del(context.WithoutCancel(ctx), lockKey)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// Only successes are replayed; a failed attempt may be retried with the same key
		if rw.statusCode >= 200 && rw.statusCode < 300 {
			data, err := json.Marshal(cachedResponse{
				StatusCode: rw.statusCode,
				Body:       rw.body.Bytes(),
				BodyHash:   bodyHash,
			})
			if err == nil {
				m.redis.Set(context.WithoutCancel(ctx), cacheKey, data, m.ttl)
			}
		}
	})
}

func (m *IdempotencyMiddleware) cacheKey(r *http.Request, key string) string {
	caller := "anonymous"
	if actor, ok := ActorFrom(r.Context()); ok {
		caller = actor.UserID
	}
	return idempotencyPrefix + caller + ":" + r.Method + ":" + r.URL.Path + ":" + key
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

func hashBody(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}
