package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payintents-backend/api/validators"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
)

type memoryStore struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "pi:idempotency:" + scope + ":" + id
}

type countingHandler struct {
	calls  int
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(h.status)
	_, _ = fmt.Fprintf(w, `{"call":%d}`, h.calls)
}

func send(t *testing.T, h http.Handler, scope, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	if scope != "" {
		req = req.WithContext(WithScopeID(req.Context(), scope))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReplayReturnsStoredResponse(t *testing.T) {
	store := newMemoryStore()
	next := &countingHandler{status: http.StatusCreated}
	h := Replay(store, CreateReplayTTL, nil)(next)

	first := send(t, h, "m_1", "abc", `{"amount":100}`)
	second := send(t, h, "m_1", "abc", `{"amount":100}`)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.Empty(t, first.Header().Get(replayedHeader))

	key := store.IdempotencyKey("m_1|POST|/api/v1/intents", "abc")
	assert.Equal(t, CreateReplayTTL, store.ttls[key])
	assert.NotContains(t, store.data, key+":inflight", "claim released after the response")
}

func TestReplayPassesThroughWithoutKey(t *testing.T) {
	store := newMemoryStore()
	next := &countingHandler{status: http.StatusCreated}
	h := Replay(store, CreateReplayTTL, nil)(next)

	send(t, h, "m_1", "", `{}`)
	send(t, h, "m_1", "", `{}`)
	assert.Equal(t, 2, next.calls)
	assert.Empty(t, store.data)
}

func TestReplayRejectsBodyChange(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	h := Replay(newMemoryStore(), TransitionReplayTTL, nil)(next)

	send(t, h, "m_1", "xyz", `{"foo":"bar"}`)
	rec := send(t, h, "m_1", "xyz", `{"foo":"diff"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), payload.Error.Code)
	assert.Equal(t, 1, next.calls)
}

func TestReplayDoesNotStoreServerErrors(t *testing.T) {
	next := &countingHandler{status: http.StatusGatewayTimeout}
	h := Replay(newMemoryStore(), TransitionReplayTTL, nil)(next)

	send(t, h, "m_1", "retry-me", ``)
	send(t, h, "m_1", "retry-me", ``)
	assert.Equal(t, 2, next.calls)
}

func TestReplayStoresClientErrors(t *testing.T) {
	next := &countingHandler{status: http.StatusUnprocessableEntity}
	h := Replay(newMemoryStore(), TransitionReplayTTL, nil)(next)

	send(t, h, "m_1", "k", ``)
	rec := send(t, h, "m_1", "k", ``)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReplayKeysAreScoped(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	h := Replay(newMemoryStore(), CreateReplayTTL, nil)(next)

	send(t, h, "m_1", "same", `{}`)
	send(t, h, "m_2", "same", `{}`)
	assert.Equal(t, 2, next.calls)
}

func TestReplayRejectsConcurrentDuplicate(t *testing.T) {
	store := newMemoryStore()
	store.data[store.IdempotencyKey("m_1|POST|/api/v1/intents", "busy")+":inflight"] = "1"
	next := &countingHandler{status: http.StatusCreated}

	rec := send(t, Replay(store, CreateReplayTTL, nil)(next), "m_1", "busy", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, next.calls)
}

func TestReplayRejectsLongKey(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	rec := send(t, Replay(newMemoryStore(), CreateReplayTTL, nil)(next), "m_1", strings.Repeat("k", maxReplayKeyLen+1), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, next.calls)
}

func TestReplaySurfacesStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("redis down")
	next := &countingHandler{status: http.StatusCreated}

	rec := send(t, Replay(store, CreateReplayTTL, nil)(next), "m_1", "k", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, next.calls)
}

func TestReplayRejectsOversizedBody(t *testing.T) {
	store := newMemoryStore()
	next := &countingHandler{status: http.StatusCreated}
	body := `{"pad":"` + strings.Repeat("x", validators.MaxBodyBytes) + `"}`

	rec := send(t, Replay(store, CreateReplayTTL, nil)(next), "m_1", "big", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(pkgerrors.CodeValidation))
	assert.Zero(t, next.calls)
	assert.Empty(t, store.data)
}
