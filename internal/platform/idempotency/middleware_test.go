package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopeasy/storefront/internal/platform/auth"
	"github.com/shopeasy/storefront/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)

func newRequest(uid, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/place-order", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload.Error.Code
}

func TestMiddlewareRequiresKey(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("u1", "", "{}"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "idempotency_key_required", errorCode(t, rec.Body.Bytes()))
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	calls := 0
	var seenKey string
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		seenKey = requestctx.IdempotencyKey(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("u1", "k1", "{}"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("u1", "k1", "{}"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "k1", seenKey, "key is on the request context")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"orderId":"ord_1"}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("u1", "same", "{}"))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("u2", "same", "{}"))
	assert.Equal(t, 2, calls, "keys are scoped per user")
}

func TestMiddlewareRejectsDifferentBody(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("u1", "k", `{"a":1}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("u1", "k", `{"a":2}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMiddlewareReleasesServerErrors(t *testing.T) {
	for _, failure := range []int{http.StatusServiceUnavailable, http.StatusBadGateway} {
		calls := 0
		handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(failure)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}))
		first := httptest.NewRecorder()
		handler.ServeHTTP(first, newRequest("u1", "k", "{}"))
		second := httptest.NewRecorder()
		handler.ServeHTTP(second, newRequest("u1", "k", "{}"))
		assert.Equal(t, failure, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code, "same key retries after %d", failure)
		assert.Equal(t, 2, calls)
	}
}

func TestMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := NewMemoryStore()
	_, _, err := store.Reserve(context.Background(), "u1|k", "other", fixedTime, time.Hour)
	require.NoError(t, err)
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("u1", "k", "{}"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "fingerprint conflict")
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state, _, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, state)
	state, _, _ = store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	assert.Equal(t, StatePending, state)
	require.NoError(t, store.Complete(ctx, "k", "fp", Response{Status: 201, Body: []byte("ok")}, fixedTime, time.Minute))
	state, record, _ := store.Reserve(ctx, "k", "fp", fixedTime.Add(30*time.Second), time.Minute)
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, "ok", string(record.Body))

	removed, _ := store.Purge(ctx, fixedTime.Add(2*time.Minute), 0)
	assert.Equal(t, 1, removed)
	state, _, _ = store.Reserve(ctx, "k", "fp", fixedTime.Add(2*time.Minute), time.Minute)
	assert.Equal(t, StateNew, state, "fresh reservation after purge")
}
