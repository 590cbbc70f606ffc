package validation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-service/service/models"
	"validator-service/service/notifier"
	"validator-service/service/suppression"
)

// captureSender 记录发送调用的假渠道发送器
type captureSender struct {
	channel  models.AlertChannel
	messages []notifier.AlertMessage
	failWith error
}

func (c *captureSender) ChannelType() models.AlertChannel { return c.channel }

func (c *captureSender) Send(_ context.Context, _ models.ChannelConfig, msg notifier.AlertMessage) error {
	c.messages = append(c.messages, msg)
	return c.failWith
}

func deciderFixture(t *testing.T, channel *captureSender) (*AlertDecider, *suppression.MemoryLedger) {
	t.Helper()
	ledger := suppression.NewMemoryLedger()
	n := notifier.NewNotifier()
	n.Register(channel)
	return NewAlertDecider(ledger, n), ledger
}

func alertConfig(policy models.AlertPolicy) *models.ValidationConfig {
	return &models.ValidationConfig{
		ID:              "cfg-1",
		Name:            "计费对账",
		AlertPolicy:     models.AlertPolicyDoc(policy),
		IntervalMinutes: 60,
	}
}

func webhookPolicy() models.AlertPolicy {
	return models.AlertPolicy{
		Channels: []models.ChannelConfig{
			{Channel: models.ChannelWebhook, Enabled: true, Target: "http://alerts.local/hook"},
		},
	}
}

func classification(anomalies ...models.Anomaly) Classification {
	return Classify(anomalies)
}

func TestDecideCriticalThresholdDefault(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook}
	decider, _ := deciderFixture(t, sender)
	cfg := alertConfig(webhookPolicy())
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}

	// 缺省阈值下单条 Critical 即触发
	cls := classification(anomaly("rule-1", "r1", "owner", models.SeverityCritical))
	records := decider.Decide(context.Background(), cfg, run, cls)

	require.Len(t, records, 1)
	assert.Equal(t, models.ChannelWebhook, records[0].Channel)
	assert.True(t, records[0].Delivered)
	assert.False(t, records[0].Suppressed)
	assert.Equal(t, []string{"rule-1/r1/owner"}, records[0].AnomalyRefs)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, 1, sender.messages[0].CriticalCount)
	assert.Contains(t, sender.messages[0].Summary, "计费对账")
}

func TestDecideWarningThresholdDefault(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook}
	decider, _ := deciderFixture(t, sender)
	cfg := alertConfig(webhookPolicy())
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}

	// 两条 Warning 不足缺省阈值3，不触发
	cls := classification(
		anomaly("rule-1", "r1", "amount", models.SeverityWarning),
		anomaly("rule-1", "r2", "amount", models.SeverityWarning),
	)
	records := decider.Decide(context.Background(), cfg, run, cls)
	assert.Nil(t, records)
	assert.Empty(t, sender.messages)

	// 第三条 Warning 达到阈值
	cls = classification(
		anomaly("rule-1", "r1", "amount", models.SeverityWarning),
		anomaly("rule-1", "r2", "amount", models.SeverityWarning),
		anomaly("rule-1", "r3", "amount", models.SeverityWarning),
	)
	records = decider.Decide(context.Background(), cfg, run, cls)
	require.Len(t, records, 1)
	assert.True(t, records[0].Delivered)
}

func TestDecideAnomalyRatioThreshold(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook}
	decider, _ := deciderFixture(t, sender)
	policy := webhookPolicy()
	policy.AnomalyRatioThreshold = 0.1
	cfg := alertConfig(policy)

	// 2/10 = 0.2 超过比例阈值，即使计数阈值未达
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 10}
	cls := classification(
		anomaly("rule-1", "r1", "amount", models.SeverityInfo),
		anomaly("rule-1", "r2", "amount", models.SeverityInfo),
	)
	records := decider.Decide(context.Background(), cfg, run, cls)
	require.Len(t, records, 1)

	// 2/100 = 0.02 低于比例阈值
	run = &models.ValidationRun{ID: "run-2", KeysCompared: 100}
	records = decider.Decide(context.Background(), cfg, run, cls)
	assert.Nil(t, records)
}

func TestDecideSuppressionWindow(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook}
	decider, _ := deciderFixture(t, sender)
	cfg := alertConfig(webhookPolicy())
	cls := classification(anomaly("rule-1", "r1", "owner", models.SeverityCritical))

	// 首次运行正常投递
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}
	records := decider.Decide(context.Background(), cfg, run, cls)
	require.Len(t, records, 1)
	assert.True(t, records[0].Delivered)

	// 冷却窗口内同一异常再次检出：留痕但不投递
	run = &models.ValidationRun{ID: "run-2", KeysCompared: 100}
	records = decider.Decide(context.Background(), cfg, run, cls)
	require.Len(t, records, 1)
	assert.True(t, records[0].Suppressed)
	assert.False(t, records[0].Delivered)
	assert.Equal(t, []string{"rule-1/r1/owner"}, records[0].AnomalyRefs)
	// 发送器只被调用过一次
	assert.Len(t, sender.messages, 1)
}

func TestDecidePartialSuppression(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook}
	decider, _ := deciderFixture(t, sender)
	cfg := alertConfig(webhookPolicy())

	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}
	first := classification(anomaly("rule-1", "r1", "owner", models.SeverityCritical))
	decider.Decide(context.Background(), cfg, run, first)

	// 旧异常被抑制，新异常照常发送，记录只含新鲜异常
	run = &models.ValidationRun{ID: "run-2", KeysCompared: 100}
	second := classification(
		anomaly("rule-1", "r1", "owner", models.SeverityCritical),
		anomaly("rule-1", "r2", "owner", models.SeverityCritical),
	)
	records := decider.Decide(context.Background(), cfg, run, second)
	require.Len(t, records, 1)
	assert.True(t, records[0].Delivered)
	assert.Equal(t, []string{"rule-1/r2/owner"}, records[0].AnomalyRefs)
	require.Len(t, sender.messages, 2)
	assert.Len(t, sender.messages[1].TopAnomalies, 1)
}

func TestDecideLedgerFailureFailsOpen(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook}
	n := notifier.NewNotifier()
	n.Register(sender)
	decider := NewAlertDecider(failingLedger{}, n)
	cfg := alertConfig(webhookPolicy())
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}

	// 台账不可用时按未抑制处理，告警照常发送
	cls := classification(anomaly("rule-1", "r1", "owner", models.SeverityCritical))
	records := decider.Decide(context.Background(), cfg, run, cls)
	require.Len(t, records, 1)
	assert.True(t, records[0].Delivered)
}

func TestDecideDeliveryFailureRecorded(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook, failWith: fmt.Errorf("目标地址不可达")}
	decider, _ := deciderFixture(t, sender)
	cfg := alertConfig(webhookPolicy())
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}

	cls := classification(anomaly("rule-1", "r1", "owner", models.SeverityCritical))
	records := decider.Decide(context.Background(), cfg, run, cls)

	// 投递失败只记录不重试
	require.Len(t, records, 1)
	assert.False(t, records[0].Delivered)
	assert.Contains(t, records[0].DeliveryError, "目标地址不可达")
	assert.Len(t, sender.messages, 1)
}

func TestDecideNoEnabledChannels(t *testing.T) {
	sender := &captureSender{channel: models.ChannelWebhook}
	decider, _ := deciderFixture(t, sender)
	policy := webhookPolicy()
	policy.Channels[0].Enabled = false
	cfg := alertConfig(policy)
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}

	cls := classification(anomaly("rule-1", "r1", "owner", models.SeverityCritical))
	records := decider.Decide(context.Background(), cfg, run, cls)
	assert.Nil(t, records)
	assert.Empty(t, sender.messages)
}

func TestDecideIndependentChannels(t *testing.T) {
	webhook := &captureSender{channel: models.ChannelWebhook, failWith: fmt.Errorf("不可达")}
	slack := &captureSender{channel: models.ChannelSlack}
	ledger := suppression.NewMemoryLedger()
	n := notifier.NewNotifier()
	n.Register(webhook)
	n.Register(slack)
	decider := NewAlertDecider(ledger, n)

	policy := webhookPolicy()
	policy.Channels = append(policy.Channels, models.ChannelConfig{
		Channel: models.ChannelSlack, Enabled: true, Target: "http://slack.local/hook",
	})
	cfg := alertConfig(policy)
	run := &models.ValidationRun{ID: "run-1", KeysCompared: 100}

	// 单渠道失败不影响其他渠道
	cls := classification(anomaly("rule-1", "r1", "owner", models.SeverityCritical))
	records := decider.Decide(context.Background(), cfg, run, cls)
	require.Len(t, records, 2)
	byChannel := map[models.AlertChannel]models.AlertRecord{}
	for _, record := range records {
		byChannel[record.Channel] = record
	}
	assert.False(t, byChannel[models.ChannelWebhook].Delivered)
	assert.True(t, byChannel[models.ChannelSlack].Delivered)
}

// failingLedger 总是报错的抑制台账
type failingLedger struct{}

func (failingLedger) CheckAndMark(context.Context, string, time.Duration) (bool, error) {
	return false, fmt.Errorf("redis 连接失败")
}
