/*
 * @module service/notifier/notifier
 * @description 告警通知发送器，支持邮件、Slack、Webhook 三种渠道，渠道间相互独立
 * @architecture 分层架构 - 外部通知端口
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 告警意图 -> 渠道分派 -> 发送 -> 投递结果记录
 * @rules 单渠道投递失败只记录不重试，不阻塞其他渠道，也不影响运行结果
 * @dependencies net/http, encoding/json
 * @refs service/validation/alert_decider.go, service/models/run.go
 */

package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"validator-service/service/models"
)

// AlertMessage 告警消息内容
type AlertMessage struct {
	ConfigID      string           `json:"config_id"`
	ConfigName    string           `json:"config_name"`
	RunID         string           `json:"run_id"`
	Summary       string           `json:"summary"`
	CriticalCount int              `json:"critical_count"`
	WarningCount  int              `json:"warning_count"`
	InfoCount     int              `json:"info_count"`
	TopAnomalies  []models.Anomaly `json:"top_anomalies,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Sender 单渠道发送器接口
type Sender interface {
	Send(ctx context.Context, cfg models.ChannelConfig, msg AlertMessage) error
	ChannelType() models.AlertChannel
}

// Notifier 多渠道通知器，按渠道类型分派
type Notifier struct {
	senders map[models.AlertChannel]Sender
}

// NewNotifier 创建通知器，注册全部内置渠道
func NewNotifier() *Notifier {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	n := &Notifier{senders: make(map[models.AlertChannel]Sender)}
	n.Register(&EmailSender{})
	n.Register(&SlackSender{httpClient: httpClient})
	n.Register(&WebhookSender{httpClient: httpClient})
	return n
}

// Register 注册渠道发送器
func (n *Notifier) Register(sender Sender) {
	n.senders[sender.ChannelType()] = sender
}

// Send 向单个渠道发送告警，返回错误时由调用方记录为投递失败
func (n *Notifier) Send(ctx context.Context, cfg models.ChannelConfig, msg AlertMessage) error {
	sender, ok := n.senders[cfg.Channel]
	if !ok {
		return fmt.Errorf("不支持的告警渠道: %s", cfg.Channel)
	}
	return sender.Send(ctx, cfg, msg)
}

// EmailSender 邮件渠道
// 简化实现 - 实际应该对接SMTP网关发送邮件
type EmailSender struct{}

// ChannelType 渠道类型
func (e *EmailSender) ChannelType() models.AlertChannel {
	return models.ChannelEmail
}

// Send 发送邮件告警
func (e *EmailSender) Send(_ context.Context, cfg models.ChannelConfig, msg AlertMessage) error {
	if len(cfg.Recipients) == 0 {
		return fmt.Errorf("邮件收件人为空")
	}

	subject := fmt.Sprintf("[校验告警] %s: Critical=%d Warning=%d",
		msg.ConfigName, msg.CriticalCount, msg.WarningCount)

	slog.Info("发送邮件告警",
		"recipients", cfg.Recipients,
		"subject", subject,
		"run_id", msg.RunID)

	return nil
}

// SlackSender Slack渠道，通过 Incoming Webhook 发送块消息
type SlackSender struct {
	httpClient *http.Client
}

// ChannelType 渠道类型
func (s *SlackSender) ChannelType() models.AlertChannel {
	return models.ChannelSlack
}

// slackBlock Slack 块消息元素
type slackBlock struct {
	Type string                 `json:"type"`
	Text map[string]interface{} `json:"text,omitempty"`
}

// Send 发送Slack告警
func (s *SlackSender) Send(ctx context.Context, cfg models.ChannelConfig, msg AlertMessage) error {
	if cfg.Target == "" {
		return fmt.Errorf("slack webhook 地址未配置")
	}

	payload := map[string]interface{}{
		"text": "服务数据一致性校验告警",
		"blocks": []slackBlock{
			{
				Type: "header",
				Text: map[string]interface{}{"type": "plain_text", "text": "服务数据一致性校验告警"},
			},
			{
				Type: "section",
				Text: map[string]interface{}{"type": "mrkdwn", "text": truncate(msg.Summary, 3000)},
			},
			{
				Type: "section",
				Text: map[string]interface{}{
					"type": "mrkdwn",
					"text": fmt.Sprintf("Critical: *%d* | Warning: *%d* | Info: *%d*",
						msg.CriticalCount, msg.WarningCount, msg.InfoCount),
				},
			},
		},
	}

	return s.post(ctx, cfg.Target, payload)
}

func (s *SlackSender) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化Slack消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建Slack请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送Slack消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// WebhookSender 自定义 Webhook 渠道，发送结构化JSON
type WebhookSender struct {
	httpClient *http.Client
}

// ChannelType 渠道类型
func (w *WebhookSender) ChannelType() models.AlertChannel {
	return models.ChannelWebhook
}

// Send 发送Webhook告警
func (w *WebhookSender) Send(ctx context.Context, cfg models.ChannelConfig, msg AlertMessage) error {
	if cfg.Target == "" {
		return fmt.Errorf("webhook 地址未配置")
	}

	payload := map[string]interface{}{
		"alert_type":     "service_validation",
		"config_id":      msg.ConfigID,
		"config_name":    msg.ConfigName,
		"run_id":         msg.RunID,
		"message":        msg.Summary,
		"critical_count": msg.CriticalCount,
		"warning_count":  msg.WarningCount,
		"info_count":     msg.InfoCount,
		"timestamp":      msg.Timestamp.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化Webhook消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建Webhook请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送Webhook消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// truncate 截断超长文本
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
