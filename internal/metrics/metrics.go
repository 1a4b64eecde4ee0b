package metrics

import (
	"time"

	"github.com/blues/escrow/internal/apperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 投影构建耗时（秒）
	ProjectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_projection_duration_seconds",
			Help:    "Dashboard projection build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"role", "outcome"}, // outcome: ok, superseded, failed
	)

	// 投影缓存命中
	ProjectionCacheCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_projection_cache_total",
			Help: "Projection cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	// 被降级排除的项目与里程碑
	ProjectionDegradedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_projection_degraded_total",
			Help: "Entities excluded from a projection because a ledger read failed",
		},
		[]string{"level"}, // level: project, milestone, submission
	)

	// 账本读调用
	LedgerReadCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_ledger_read_total",
			Help: "Ledger read calls issued by the projector",
		},
		[]string{"op", "status"},
	)

	// 写命令
	CommandCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_command_total",
			Help: "Escrow commands by outcome",
		},
		[]string{"command", "outcome"}, // outcome: accepted 或错误分类
	)

	// 写命令耗时（秒）
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_command_duration_seconds",
			Help:    "Escrow command duration in seconds, including waiting for the receipt",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"command"},
	)

	// 缓存失效次数
	CacheInvalidationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_cache_invalidation_total",
			Help: "Projection cache invalidations",
		},
		[]string{"source"}, // source: command, receipt, monitor, remote
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordProjection 记录投影耗时
func RecordProjection(role, outcome string, duration time.Duration) {
	ProjectionDuration.WithLabelValues(role, outcome).Observe(duration.Seconds())
}

// RecordCacheLookup 记录缓存命中情况
func RecordCacheLookup(hit bool) {
	if hit {
		ProjectionCacheCount.WithLabelValues("hit").Inc()
		return
	}
	ProjectionCacheCount.WithLabelValues("miss").Inc()
}

// RecordDegraded 记录被排除的实体
func RecordDegraded(level string) {
	ProjectionDegradedCount.WithLabelValues(level).Inc()
}

// RecordLedgerRead 记录账本读调用结果
func RecordLedgerRead(op string, err error) {
	LedgerReadCount.WithLabelValues(op, outcome(err, "ok")).Inc()
}

// RecordCommand 记录写命令结果与耗时
func RecordCommand(command string, err error, duration time.Duration) {
	CommandCount.WithLabelValues(command, outcome(err, "accepted")).Inc()
	CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordInvalidation 记录缓存失效
func RecordInvalidation(source string) {
	CacheInvalidationCount.WithLabelValues(source).Inc()
}

// RecordHTTPRequest 记录 HTTP 请求延迟
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func outcome(err error, success string) string {
	if err == nil {
		return success
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
