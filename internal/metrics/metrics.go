// ============================================================================
// Beaver-Balancer Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露 coordinator 的分配、心跳、完成與回收指標
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - balancer_jobs_allocated_total: 已分派任務總數
//      - balancer_heartbeats_total{result}: 心跳數（accepted / rejected）
//      - balancer_completions_total{result}: 完成通知數（success / failure / rejected）
//      - balancer_jobs_reclaimed_total: 逾時回收任務總數
//
//   2. 狀態指標 (Gauge)：
//      - balancer_jobs_unclaimed / balancer_jobs_in_flight / balancer_jobs_completed
//
//   3. 性能指標 (Histogram)：
//      - balancer_rpc_duration_seconds{method}: gRPC 請求處理時間
//
// Prometheus 查詢示例:
//
//   # 每分鐘完成任務數
//   rate(balancer_completions_total{result="success"}[1m])
//
//   # 逾時回收比例（worker 不穩定的指標）
//   rate(balancer_jobs_reclaimed_total[5m]) / rate(balancer_jobs_allocated_total[5m])
//
// HTTP 端點:
//   通過 /metrics 端點暴露，默認端口 9090
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// 標籤值
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultSuccess  = "success"
	ResultFailure  = "failure"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 任務相關指標
	jobsAllocated prometheus.Counter
	heartbeats    *prometheus.CounterVec
	completions   *prometheus.CounterVec
	jobsReclaimed prometheus.Counter

	// 狀態指標
	jobsUnclaimed prometheus.Gauge
	jobsInFlight  prometheus.Gauge
	jobsCompleted prometheus.Gauge

	// 效能指標
	rpcDuration *prometheus.HistogramVec
}

// NewCollector 創建新的指標收集器，並註冊到 prometheus.DefaultRegisterer
//
// 同一個 process 只應建立一個 Collector，重複註冊會 panic
func NewCollector() *Collector {
	c := &Collector{
		jobsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "balancer_jobs_allocated_total",
			Help: "Total number of jobs handed out to workers",
		}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balancer_heartbeats_total",
			Help: "Total number of heartbeats received, by result",
		}, []string{"result"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "balancer_completions_total",
			Help: "Total number of completion reports received, by result",
		}, []string{"result"}),
		jobsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "balancer_jobs_reclaimed_total",
			Help: "Total number of in-flight jobs reclaimed after heartbeat timeout",
		}),
		jobsUnclaimed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "balancer_jobs_unclaimed",
			Help: "Current number of unclaimed jobs",
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "balancer_jobs_in_flight",
			Help: "Current number of in-flight jobs",
		}),
		jobsCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "balancer_jobs_completed",
			Help: "Current number of completed jobs",
		}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "balancer_rpc_duration_seconds",
			Help:    "gRPC request handling latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	// 註冊所有指標
	prometheus.MustRegister(c.jobsAllocated)
	prometheus.MustRegister(c.heartbeats)
	prometheus.MustRegister(c.completions)
	prometheus.MustRegister(c.jobsReclaimed)
	prometheus.MustRegister(c.jobsUnclaimed)
	prometheus.MustRegister(c.jobsInFlight)
	prometheus.MustRegister(c.jobsCompleted)
	prometheus.MustRegister(c.rpcDuration)

	return c
}

// RecordAllocate 記錄任務分派
func (c *Collector) RecordAllocate() {
	c.jobsAllocated.Inc()
}

// RecordHeartbeat 記錄心跳結果
func (c *Collector) RecordHeartbeat(accepted bool) {
	if accepted {
		c.heartbeats.WithLabelValues(ResultAccepted).Inc()
		return
	}
	c.heartbeats.WithLabelValues(ResultRejected).Inc()
}

// RecordCompletion 記錄完成通知
func (c *Collector) RecordCompletion(success, accepted bool) {
	switch {
	case !accepted:
		c.completions.WithLabelValues(ResultRejected).Inc()
	case success:
		c.completions.WithLabelValues(ResultSuccess).Inc()
	default:
		c.completions.WithLabelValues(ResultFailure).Inc()
	}
}

// RecordReclaimed 記錄逾時回收數量
func (c *Collector) RecordReclaimed(n int) {
	c.jobsReclaimed.Add(float64(n))
}

// UpdateLedgerStats 更新三個集合的大小
func (c *Collector) UpdateLedgerStats(s types.LedgerStatus) {
	c.jobsUnclaimed.Set(float64(s.Unclaimed))
	c.jobsInFlight.Set(float64(s.InFlight))
	c.jobsCompleted.Set(float64(s.Completed))
}

// ObserveRPC 記錄一次 RPC 處理時間
func (c *Collector) ObserveRPC(method string, d time.Duration) {
	c.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler 回傳 /metrics 的 HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer 建立 Prometheus metrics HTTP 伺服器（尚未啟動）
//
// 參數：
//   - port: HTTP 伺服器端口
func NewServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
