package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/payintents-backend/api/responses"
	"github.com/angelmondragon/payintents-backend/api/validators"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/payintents-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxReplayKeyLen   = 128
	inFlightTTL       = 30 * time.Second
)

// Replay TTLs for the intent routes.
const (
	CreateReplayTTL     = 7 * 24 * time.Hour
	TransitionReplayTTL = 24 * time.Hour
)

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	BodyHash    string `json:"body_hash"`
}

// Replay makes the wrapped route safe to retry with an Idempotency-Key. The
// first completed response is stored for ttl under scope, method, path and
// key; later requests with the same key and body get it back with an
// Idempotent-Replayed header. A different body is rejected. While the first
// request runs, duplicates get a conflict. 5xx responses are not stored.
func Replay(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(clientKey) > maxReplayKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := validators.ReadBody(r)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			bodyHash := hex.EncodeToString(sum[:])

			key := store.IdempotencyKey(strings.Join([]string{ScopeIDFromContext(ctx), r.Method, r.URL.Path}, "|"), clientKey)

			prior, err := lookup(r, store, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if prior != nil {
				if prior.BodyHash != bodyHash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				prior.writeTo(w)
				return
			}

			lockKey := key + ":inflight"
			claimed, err := store.SetNX(ctx, lockKey, "1", inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is in progress"))
				return
			}
			defer func() {
				if err := store.Del(ctx, lockKey); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency claim", err)
				}
			}()

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError {
				return
			}

			raw, err := json.Marshal(storedResponse{
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.buf.Bytes(),
				BodyHash:    bodyHash,
			})
			if err == nil {
				_, err = store.SetNX(ctx, key, string(raw), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "store idempotent response", err)
			}
		})
	}
}

func lookup(r *http.Request, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(r.Context(), key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *storedResponse) writeTo(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

type captureWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}
