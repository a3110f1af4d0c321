package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"payorder/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsCollector(reg)
	m.RecordReconcile("payme", "succeeded", "applied")

	r := gin.New()
	setupRoutes(r, healthCheck(nil, nil), reg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `payment_reconcile_total{channel="payme",event="succeeded",outcome="applied"} 1`)
}
