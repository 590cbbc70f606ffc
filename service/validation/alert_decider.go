/*
 * @module service/validation/alert_decider
 * @description 告警裁决器，按阈值策略判定是否告警，做抑制查验并向各渠道扇出
 * @architecture 策略裁决层 - 阈值判定 -> 抑制过滤 -> 渠道独立扇出
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 分级结果 -> 阈值判定 -> 逐异常抑制查验 -> 新鲜异常渠道发送 -> 告警记录
 * @rules 抑制窗口内的重复异常不再发送但必须留痕；单渠道投递失败不重试、不影响其他渠道、不影响运行结果
 * @dependencies context, strings
 * @refs classifier.go, service/suppression, service/notifier
 */

package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"validator-service/service/metrics"
	"validator-service/service/models"
	"validator-service/service/notifier"
	"validator-service/service/suppression"
)

// maxSummaryAnomalies 告警正文中列出的异常上限
const maxSummaryAnomalies = 10

// AlertDecider 告警裁决器
type AlertDecider struct {
	ledger   suppression.Ledger
	notifier *notifier.Notifier
}

// NewAlertDecider 创建告警裁决器
func NewAlertDecider(ledger suppression.Ledger, n *notifier.Notifier) *AlertDecider {
	return &AlertDecider{ledger: ledger, notifier: n}
}

// Decide 判定并执行告警，返回本次运行的告警记录
// 未触发阈值时返回空记录；全部异常被抑制时记录 suppressed 告警且不投递
func (d *AlertDecider) Decide(ctx context.Context, cfg *models.ValidationConfig, run *models.ValidationRun, cls Classification) []models.AlertRecord {
	policy := models.AlertPolicy(cfg.AlertPolicy)
	if !d.triggered(policy, run, cls) {
		return nil
	}

	channels := enabledChannels(policy)
	if len(channels) == 0 {
		slog.Warn("告警已触发但未配置任何启用渠道",
			"config_id", cfg.ID,
			"run_id", run.ID)
		return nil
	}

	fresh := d.filterSuppressed(ctx, cfg, policy, cls.Anomalies)
	now := time.Now()

	// 全部异常处于抑制窗口内：留痕但不投递
	if len(fresh) == 0 {
		records := make([]models.AlertRecord, 0, len(channels))
		for _, channel := range channels {
			metrics.ObserveSuppressedAlert(channel.Channel)
			records = append(records, models.AlertRecord{
				Channel:     channel.Channel,
				AnomalyRefs: anomalyRefs(cls.Anomalies),
				SentAt:      now,
				Suppressed:  true,
				Delivered:   false,
			})
		}
		slog.Info("告警被抑制窗口吸收",
			"config_id", cfg.ID,
			"run_id", run.ID,
			"anomalies", cls.Total())
		return records
	}

	msg := d.buildMessage(cfg, run, cls, fresh)
	refs := anomalyRefs(fresh)

	records := make([]models.AlertRecord, 0, len(channels))
	for _, channel := range channels {
		record := models.AlertRecord{
			Channel:     channel.Channel,
			AnomalyRefs: refs,
			SentAt:      now,
		}
		if err := d.notifier.Send(ctx, channel, msg); err != nil {
			record.DeliveryError = err.Error()
			slog.Error("告警渠道投递失败",
				"config_id", cfg.ID,
				"run_id", run.ID,
				"channel", channel.Channel,
				"error", err)
		} else {
			record.Delivered = true
		}
		metrics.ObserveAlert(channel.Channel, record.Delivered)
		records = append(records, record)
	}
	return records
}

// triggered 阈值判定：Critical 计数、Warning 计数与异常键比例三者任一满足即触发
func (d *AlertDecider) triggered(policy models.AlertPolicy, run *models.ValidationRun, cls Classification) bool {
	if cls.CriticalCount >= policy.EffectiveCriticalThreshold() {
		return true
	}
	if cls.WarningCount >= policy.EffectiveWarningThreshold() {
		return true
	}
	if policy.AnomalyRatioThreshold > 0 && run.KeysCompared > 0 {
		ratio := float64(cls.Total()) / float64(run.KeysCompared)
		if ratio >= policy.AnomalyRatioThreshold {
			return true
		}
	}
	return false
}

// filterSuppressed 逐异常做抑制查验，返回抑制窗口外的新鲜异常
// 抑制台账失败时按未抑制处理，宁可重复告警不可漏报
func (d *AlertDecider) filterSuppressed(ctx context.Context, cfg *models.ValidationConfig, policy models.AlertPolicy, anomalies []models.Anomaly) []models.Anomaly {
	window := policy.Cooldown(cfg.Interval())
	fresh := make([]models.Anomaly, 0, len(anomalies))
	for _, anomaly := range anomalies {
		key := suppression.SuppressionKey(cfg.ID, anomaly.RuleID, anomaly.Key, anomaly.Field)
		first, err := d.ledger.CheckAndMark(ctx, key, window)
		if err != nil {
			slog.Warn("抑制台账查验失败，按未抑制处理",
				"suppression_key", key,
				"error", err)
			fresh = append(fresh, anomaly)
			continue
		}
		if first {
			fresh = append(fresh, anomaly)
		}
	}
	return fresh
}

// buildMessage 构造告警消息正文
func (d *AlertDecider) buildMessage(cfg *models.ValidationConfig, run *models.ValidationRun, cls Classification, fresh []models.Anomaly) notifier.AlertMessage {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("校验配置 %s 检出 %d 条数据异常（本次运行 %s）\n",
		cfg.Name, cls.Total(), run.ID))

	top := fresh
	if len(top) > maxSummaryAnomalies {
		top = top[:maxSummaryAnomalies]
	}
	for _, anomaly := range top {
		sb.WriteString(fmt.Sprintf("[%s] %s key=%s field=%s: 期望=%s 实际=%s (%s)\n",
			anomaly.Severity, anomaly.RuleID, anomaly.Key, anomaly.Field,
			anomaly.Expected.String(), anomaly.Actual.String(), anomaly.Kind))
	}
	if len(fresh) > maxSummaryAnomalies {
		sb.WriteString(fmt.Sprintf("... 另有 %d 条异常未列出\n", len(fresh)-maxSummaryAnomalies))
	}

	return notifier.AlertMessage{
		ConfigID:      cfg.ID,
		ConfigName:    cfg.Name,
		RunID:         run.ID,
		Summary:       sb.String(),
		CriticalCount: cls.CriticalCount,
		WarningCount:  cls.WarningCount,
		InfoCount:     cls.InfoCount,
		TopAnomalies:  top,
		Timestamp:     time.Now(),
	}
}

// enabledChannels 策略中启用的告警渠道
func enabledChannels(policy models.AlertPolicy) []models.ChannelConfig {
	channels := make([]models.ChannelConfig, 0, len(policy.Channels))
	for _, channel := range policy.Channels {
		if channel.Enabled {
			channels = append(channels, channel)
		}
	}
	return channels
}

// anomalyRefs 异常的去重标识列表
func anomalyRefs(anomalies []models.Anomaly) []string {
	refs := make([]string, 0, len(anomalies))
	for _, anomaly := range anomalies {
		refs = append(refs, anomaly.Ref())
	}
	return refs
}
