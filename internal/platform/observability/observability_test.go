package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shopeasy/storefront/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(core))

	log(context.Background(), "checkout.order_placed", map[string]any{"orderId": "ord_1", "total": "82.00"})
	log(context.Background(), "checkout.persistence_failed", map[string]any{"paymentReference": "pi_1"})
	log(context.Background(), "pricing.discount_clamped", map[string]any{"error": "x"})
	log(context.Background(), "checkout.order_orphaned", map[string]any{"orderId": "ord_2"})

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "ord_1", entries[0].ContextMap()["orderId"])
	assert.Equal(t, "checkout.order_placed", entries[0].ContextMap()["event"])
	for _, entry := range entries[1:] {
		assert.Equal(t, zapcore.WarnLevel, entry.Level, entry.ContextMap()["event"])
	}
	assert.Equal(t, "ord_2", entries[3].ContextMap()["orderId"])
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(baseCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "cart.item_added", nil)

	assert.Zero(t, baseLogs.Len())
	assert.Equal(t, 1, reqLogs.Len())
}

func TestRequestLoggerAndRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := TraceMiddleware(RequestLoggerMiddleware(zap.New(core))(RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"]["code"])
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.ErrorLevel, completed[0].Level)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("nonsense")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
