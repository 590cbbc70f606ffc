/*
 * @module service/suppression/memory_ledger
 * @description 内存版告警抑制账本，用于单实例部署和测试
 * @architecture 工具层 - Ledger 接口的进程内实现
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 抑制检查 -> 打标 -> 过期条目惰性清理
 * @rules 与 Redis 实现语义一致：窗口内同键只放行一次
 * @dependencies sync, time
 * @refs redis_ledger.go
 */

package suppression

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger 进程内抑制账本
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> 过期时间
	now     func() time.Time
}

// NewMemoryLedger 创建内存抑制账本
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CheckAndMark 原子检查并打标
func (m *MemoryLedger) CheckAndMark(_ context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, ok := m.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}

	m.entries[key] = now.Add(window)
	m.sweep(now)
	return true, nil
}

// sweep 惰性清理过期条目，持锁调用
func (m *MemoryLedger) sweep(now time.Time) {
	if len(m.entries) < 1024 {
		return
	}
	for key, expiry := range m.entries {
		if now.After(expiry) {
			delete(m.entries, key)
		}
	}
}

var _ Ledger = (*MemoryLedger)(nil)
