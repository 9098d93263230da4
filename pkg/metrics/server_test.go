package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewOutboxMetrics(reg).ObserveDispatch("payment_intent_created", "published")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `outbox_events_dispatched_total{event_type="payment_intent_created",outcome="published"} 1`)
}

func TestServeDisabledWithoutAddr(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "metrics-test", Output: io.Discard})
	assert.NoError(t, Serve(context.Background(), "", prometheus.NewRegistry(), logg))
}
