/*
 * @module service/runlock/redis_lock
 * @description Redis运行互斥锁，保证同一配置同时至多一个非终态校验运行
 * @architecture 工具层 - 提供多实例环境下的运行防重能力
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 获取锁 -> 运行校验 -> 释放锁/自动过期
 * @rules 使用Redis SET NX实现，锁值为持有实例标识，仅持有者可释放
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/validation/orchestrator.go, memory_lock.go
 */

package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// RunLock 每配置运行互斥锁接口
type RunLock interface {
	// TryLock 尝试获取配置的运行锁，已被持有时返回 false
	TryLock(ctx context.Context, configID string, ttl time.Duration) (bool, error)
	// Unlock 释放运行锁
	Unlock(ctx context.Context, configID string) error
}

// RedisRunLock Redis运行锁实现
type RedisRunLock struct {
	client     *redis.Client
	instanceID string // 实例ID，用于标识锁的持有者
}

// NewRedisRunLock 创建Redis运行锁
func NewRedisRunLock() (*RedisRunLock, error) {
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

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s:%d", hostname, os.Getpid())

	slog.Info("运行互斥锁初始化成功",
		"instance_id", instanceID,
		"redis_host", host,
		"redis_port", port)

	return &RedisRunLock{
		client:     client,
		instanceID: instanceID,
	}, nil
}

// TryLock 尝试获取运行锁
// 使用SET NX命令，只有当key不存在时才会设置成功
func (r *RedisRunLock) TryLock(ctx context.Context, configID string, ttl time.Duration) (bool, error) {
	lockKey := "validation_run:lock:" + configID

	result, err := r.client.SetNX(ctx, lockKey, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取运行锁失败: %w", err)
	}

	if result {
		slog.Debug("运行锁: 成功获取锁",
			"config_id", configID,
			"ttl", ttl,
			"instance", r.instanceID)
	}

	return result, nil
}

// Unlock 释放运行锁
// 使用Lua脚本确保只有锁的持有者才能释放锁
func (r *RedisRunLock) Unlock(ctx context.Context, configID string) error {
	lockKey := "validation_run:lock:" + configID

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := r.client.Eval(ctx, script, []string{lockKey}, r.instanceID).Result()
	if err != nil {
		return fmt.Errorf("释放运行锁失败: %w", err)
	}

	if result.(int64) != 1 {
		slog.Warn("运行锁: 锁不存在或已被其他实例持有",
			"config_id", configID,
			"instance", r.instanceID)
	}

	return nil
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var _ RunLock = (*RedisRunLock)(nil)
