// Package metrics 定义 Prometheus 指标，经 /metrics 端点暴露。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal HTTP 请求计数，按方法、路由与状态码分桶。
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration HTTP 请求耗时分布。
	HTTPRequestDuration *prometheus.HistogramVec

	// RelationWritesTotal 关系引擎发出的补偿写计数，按写类型分桶。
	RelationWritesTotal *prometheus.CounterVec

	// LockWaitDuration 文档租约等待耗时分布。
	LockWaitDuration prometheus.Histogram

	// LockTimeoutTotal 文档租约等待超时计数。
	LockTimeoutTotal prometheus.Counter

	// QueryRejectedTotal 非法查询参数被拒绝的次数。
	QueryRejectedTotal prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 创建并注册全部指标，重复调用无副作用。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mp3_http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"})

		HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mp3_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		RelationWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mp3_relation_writes_total",
			Help: "Compensating writes issued by the relation engine.",
		}, []string{"kind"})

		LockWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mp3_doclock_wait_seconds",
			Help:    "Time spent waiting for document leases.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1},
		})

		LockTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mp3_doclock_timeouts_total",
			Help: "Document lease acquisitions that exceeded the wait bound.",
		})

		QueryRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mp3_query_rejected_total",
			Help: "List queries rejected as malformed.",
		})

		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			RelationWritesTotal,
			LockWaitDuration,
			LockTimeoutTotal,
			QueryRejectedTotal,
		)
	})
}
