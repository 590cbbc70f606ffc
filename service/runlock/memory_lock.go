/*
 * @module service/runlock/memory_lock
 * @description 内存版运行互斥锁，用于单实例部署和测试
 * @architecture 工具层 - RunLock 接口的进程内实现
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 获取锁 -> 运行校验 -> 释放锁/TTL过期兜底
 * @rules 与 Redis 实现语义一致：同一配置同时至多一把锁
 * @dependencies sync, time
 * @refs redis_lock.go
 */

package runlock

import (
	"context"
	"sync"
	"time"
)

// MemoryRunLock 进程内运行锁
type MemoryRunLock struct {
	mu    sync.Mutex
	locks map[string]time.Time // configID -> 过期时间
	now   func() time.Time
}

// NewMemoryRunLock 创建内存运行锁
func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// TryLock 尝试获取运行锁
func (m *MemoryRunLock) TryLock(_ context.Context, configID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, ok := m.locks[configID]; ok && now.Before(expiry) {
		return false, nil
	}

	m.locks[configID] = now.Add(ttl)
	return true, nil
}

// Unlock 释放运行锁
func (m *MemoryRunLock) Unlock(_ context.Context, configID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.locks, configID)
	return nil
}

var _ RunLock = (*MemoryRunLock)(nil)
