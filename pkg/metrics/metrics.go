package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 同步引擎指标；nil 接收者为空操作
type Metrics struct {
	syncs         *prometheus.CounterVec
	stageRequests *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	conflicts     prometheus.Counter
	tripsWritten  prometheus.Counter
	rollbacks     *prometheus.CounterVec
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnsync",
			Name:      "syncs_total",
			Help:      "Sync invocations by outcome",
		}, []string{"outcome"}),
		stageRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnsync",
			Name:      "stage_requests_total",
			Help:      "Portal requests issued per crawl stage",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hnsync",
			Name:      "stage_duration_seconds",
			Help:      "Crawl stage duration",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hnsync",
			Name:      "trip_conflicts_total",
			Help:      "Dates skipped because a human edited the trip",
		}),
		tripsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hnsync",
			Name:      "trips_written_total",
			Help:      "Trip records committed",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnsync",
			Name:      "rollbacks_total",
			Help:      "Order store rollbacks by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.syncs, m.stageRequests, m.stageDuration, m.conflicts, m.tripsWritten, m.rollbacks)
	}
	return m
}

// Sync 记录一次同步结果
func (m *Metrics) Sync(outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(outcome).Inc()
}

// Stage 记录阶段耗时与请求数
func (m *Metrics) Stage(stage, outcome string, requests int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageRequests.WithLabelValues(stage).Add(float64(requests))
	m.stageDuration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

// Conflicts 冲突数
func (m *Metrics) Conflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflicts.Add(float64(n))
}

// TripsWritten 写入的行程数
func (m *Metrics) TripsWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tripsWritten.Add(float64(n))
}

// Rollback 回滚结果：restored / skipped / failed
func (m *Metrics) Rollback(result string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(result).Inc()
}
