package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsActive prometheus.Gauge
	dbConnectionsIdle   prometheus.Gauge

	// 支付指标
	linksIssuedTotal   *prometheus.CounterVec
	reconcileTotal     *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	gatewayCallSeconds *prometheus.HistogramVec
}

// NewMetricsCollector 创建指标收集器并注册到 reg
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		dbConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),

		dbConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		linksIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_links_issued_total",
				Help: "Payment link issuance attempts by channel and result",
			},
			[]string{"channel", "result"},
		),

		reconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_reconcile_total",
				Help: "Webhook reconciliation outcomes",
			},
			[]string{"channel", "event", "outcome"},
		),

		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_transitions_total",
				Help: "Order status transition requests by target and result",
			},
			[]string{"target", "result"},
		),

		gatewayCallSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_call_duration_seconds",
				Help:    "Outbound payment gateway call duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"channel"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLinkIssued 记录支付链接签发
func (m *MetricsCollector) RecordLinkIssued(channel, result string, duration time.Duration) {
	m.linksIssuedTotal.WithLabelValues(channel, result).Inc()
	m.gatewayCallSeconds.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordReconcile 记录回调处理结果
func (m *MetricsCollector) RecordReconcile(channel, event, outcome string) {
	m.reconcileTotal.WithLabelValues(channel, event, outcome).Inc()
}

// RecordTransition 记录状态迁移请求
func (m *MetricsCollector) RecordTransition(target, result string) {
	m.transitionsTotal.WithLabelValues(target, result).Inc()
}

// UpdateDBConnections 更新数据库连接指标
func (m *MetricsCollector) UpdateDBConnections(stats sql.DBStats) {
	m.dbConnectionsActive.Set(float64(stats.InUse))
	m.dbConnectionsIdle.Set(float64(stats.Idle))
}

// StatusCategory 获取状态分类
func StatusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
