/*
 * @module service/events/kafka_publisher
 * @description 校验运行生命周期事件发布器，向 Kafka 主题发布运行状态变更事件
 * @architecture 事件驱动 - 出站事件端口，未配置时引擎静默跳过发布
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 运行状态变更 -> 事件构造 -> Kafka 发布（按 config_id 分区）
 * @rules 事件发布失败只记录日志，不影响校验运行结果
 * @dependencies github.com/segmentio/kafka-go
 * @refs service/validation/orchestrator.go
 */

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"validator-service/service/models"
)

// RunEvent 运行生命周期事件
type RunEvent struct {
	EventType     string          `json:"event_type"` // run_started / run_completed / run_failed
	ConfigID      string          `json:"config_id"`
	RunID         string          `json:"run_id"`
	State         models.RunState `json:"state"`
	Reason        string          `json:"reason,omitempty"`
	AnomalyCount  int             `json:"anomaly_count"`
	CriticalCount int             `json:"critical_count"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Publisher 运行事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event RunEvent) error
	Close() error
}

// KafkaPublisher 基于 Kafka 的事件发布实现
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisherFromEnv 从环境变量创建 Kafka 发布器
// KAFKA_BROKERS 未配置时返回 nil，表示事件发布被禁用
func NewKafkaPublisherFromEnv() *KafkaPublisher {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return nil
	}
	topic := os.Getenv("KAFKA_RUN_EVENTS_TOPIC")
	if topic == "" {
		topic = "validation-run-events"
	}
	return NewKafkaPublisher(strings.Split(brokers, ","), topic)
}

// NewKafkaPublisher 创建 Kafka 发布器
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish 发布运行事件，消息键为 config_id 保证同配置事件有序
func (p *KafkaPublisher) Publish(ctx context.Context, event RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化运行事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ConfigID),
		Value: payload,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发布运行事件失败: %w", err)
	}
	return nil
}

// Close 关闭底层写入器
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
