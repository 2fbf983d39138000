package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 联系实例指标
	ContactsMinted   prometheus.Counter
	ContactsReused   prometheus.Counter
	ContactsConsumed prometheus.Counter
	ContactsPurged   prometheus.Counter

	// 转发指标
	RelaysSent    prometheus.Counter
	RelaysBlocked prometheus.Counter
	RelaysFailed  prometheus.Counter
	CopiesSent    prometheus.Counter
	CopiesFailed  prometheus.Counter

	// 日志清理指标
	LogEntriesPurged prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contactrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		ContactsMinted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_contacts_minted_total",
				Help: "Total number of contact instances created",
			},
		),
		ContactsReused: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_contacts_reused_total",
				Help: "Total number of contact instances reused by deduplication",
			},
		),
		ContactsConsumed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_contacts_consumed_total",
				Help: "Total number of contact instances consumed by successful relays",
			},
		),
		ContactsPurged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_contacts_purged_total",
				Help: "Total number of stale contact instances purged",
			},
		),
		RelaysSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_relays_sent_total",
				Help: "Total number of messages relayed to addressees",
			},
		),
		RelaysBlocked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_relays_blocked_total",
				Help: "Total number of relays suppressed by the block flag",
			},
		),
		RelaysFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_relays_failed_total",
				Help: "Total number of relay delivery failures",
			},
		),
		CopiesSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_copies_sent_total",
				Help: "Total number of sender copies delivered",
			},
		),
		CopiesFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_copies_failed_total",
				Help: "Total number of sender copy delivery failures",
			},
		),
		LogEntriesPurged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactrelay_log_entries_purged_total",
				Help: "Total number of delivery log entries purged",
			},
		),
	}
}

// Handler 返回 Prometheus 指标处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
