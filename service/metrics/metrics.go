/*
 * @module service/metrics/metrics
 * @description 校验引擎 Prometheus 指标收集器，覆盖运行、抓取、异常、告警四类指标
 * @architecture 观测层 - 指标通过 /metrics 端点暴露
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 引擎各阶段打点 -> prometheus 默认注册表 -> /metrics 抓取
 * @rules 指标记录不影响业务流程，所有打点方法可在任意阶段安全调用
 * @dependencies github.com/prometheus/client_golang
 * @refs service/validation/orchestrator.go, main.go
 */

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"validator-service/service/models"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Name:      "runs_total",
		Help:      "校验运行总数，按终态分类",
	}, []string{"state"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "validator",
		Name:      "run_duration_seconds",
		Help:      "单次校验运行耗时",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Name:      "fetches_total",
		Help:      "服务数据抓取总数，按结果状态分类",
	}, []string{"status"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "validator",
		Name:      "fetch_duration_seconds",
		Help:      "单服务数据抓取耗时",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Name:      "anomalies_total",
		Help:      "检出异常总数，按严重级别分类",
	}, []string{"severity"})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validator",
		Name:      "alerts_total",
		Help:      "告警发送总数，按渠道和投递结果分类",
	}, []string{"channel", "result"})
)

// ObserveRun 记录一次运行的终态与耗时
func ObserveRun(state models.RunState, duration time.Duration) {
	runsTotal.WithLabelValues(string(state)).Inc()
	runDuration.Observe(duration.Seconds())
}

// ObserveFetch 记录一次服务抓取的状态与耗时
func ObserveFetch(status models.FetchStatus, duration time.Duration) {
	fetchesTotal.WithLabelValues(string(status)).Inc()
	fetchDuration.Observe(duration.Seconds())
}

// ObserveAnomaly 记录一条检出异常
func ObserveAnomaly(severity models.Severity) {
	anomaliesTotal.WithLabelValues(string(severity)).Inc()
}

// ObserveAlert 记录一次告警发送结果
func ObserveAlert(channel models.AlertChannel, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	alertsTotal.WithLabelValues(string(channel), result).Inc()
}

// ObserveSuppressedAlert 记录一次被抑制的告警
func ObserveSuppressedAlert(channel models.AlertChannel) {
	alertsTotal.WithLabelValues(string(channel), "suppressed").Inc()
}
