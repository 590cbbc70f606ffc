/*
 * @module service/suppression/redis_ledger
 * @description Redis告警抑制账本，SET NX + TTL 实现冷却窗口内的原子去重
 * @architecture 工具层 - 提供跨实例的告警抑制能力
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 抑制检查 -> 未抑制则打标 -> 窗口自动过期
 * @rules check-and-set 必须原子，避免并发运行重复告警；窗口过期由 Redis TTL 保证
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/validation/alert_decider.go, memory_ledger.go
 */

package suppression

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// Ledger 告警抑制账本接口
// CheckAndMark 返回 true 表示未被抑制（并已打标），false 表示冷却窗口内已有同键告警
type Ledger interface {
	CheckAndMark(ctx context.Context, key string, window time.Duration) (bool, error)
}

// SuppressionKey 构造抑制键 (config_id, rule_id, key, field)
func SuppressionKey(configID, ruleID, key, field string) string {
	return fmt.Sprintf("%s:%s:%s:%s", configID, ruleID, key, field)
}

// RedisLedger Redis抑制账本实现
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger 创建Redis抑制账本
func NewRedisLedger() (*RedisLedger, error) {
	host := getEnvWithDefault("REDIS_HOST", "localhost")
	port := getEnvWithDefault("REDIS_PORT", "6379")
	password := os.Getenv("REDIS_PASSWORD")
	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		fmt.Sscanf(dbStr, "%d", &db)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	slog.Info("告警抑制账本初始化成功", "redis_host", host, "redis_port", port)

	return &RedisLedger{client: client}, nil
}

// CheckAndMark 原子检查并打标
// SET NX 成功表示窗口内首次出现，允许发送；失败表示已抑制
func (r *RedisLedger) CheckAndMark(ctx context.Context, key string, window time.Duration) (bool, error) {
	ledgerKey := "alert_suppression:" + key

	ok, err := r.client.SetNX(ctx, ledgerKey, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("抑制账本写入失败: %w", err)
	}

	if !ok {
		slog.Debug("告警已在冷却窗口内，抑制发送", "key", key, "window", window)
	}

	return ok, nil
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var _ Ledger = (*RedisLedger)(nil)
