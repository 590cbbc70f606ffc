/*
 * @module service/scheduler/scheduler_service
 * @description 校验调度服务，按 cron 表达式或固定间隔周期性触发校验运行
 * @architecture 调度层 - cron 调度器 + 分钟级间隔检查循环，配置周期性重载
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 启动 -> 分钟检查循环（重载配置 -> cron注册同步 -> 间隔到期触发） -> 停止
 * @rules cron 表达式优先于固定间隔；触发碰撞由编排器的运行锁合并；调度循环不阻塞在运行上
 * @dependencies github.com/robfig/cron/v3, sync, time
 * @refs service/validation/orchestrator.go, service/storage/config_store.go
 */

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"validator-service/service/models"
	"validator-service/service/storage"
	"validator-service/service/validation"
)

// SchedulerService 校验调度服务
type SchedulerService struct {
	configs      *storage.ConfigStore
	orchestrator *validation.Orchestrator
	cron         *cron.Cron

	mu          sync.Mutex
	cronEntries map[string]cronRegistration // config_id -> cron 注册
	lastRun     map[string]time.Time        // config_id -> 上次间隔触发时间

	stopChan chan struct{}
	running  bool
}

// cronRegistration 已注册的 cron 任务
type cronRegistration struct {
	spec    string
	entryID cron.EntryID
}

// NewSchedulerService 创建调度服务
func NewSchedulerService(configs *storage.ConfigStore, orchestrator *validation.Orchestrator) *SchedulerService {
	return &SchedulerService{
		configs:      configs,
		orchestrator: orchestrator,
		cron:         cron.New(),
		cronEntries:  make(map[string]cronRegistration),
		lastRun:      make(map[string]time.Time),
		stopChan:     make(chan struct{}),
	}
}

// Start 启动调度服务
func (s *SchedulerService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	go s.loop()
	slog.Info("校验调度服务已启动")
}

// Stop 停止调度服务，等待运行中的 cron 任务结束
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("校验调度服务已停止")
}

// loop 分钟级检查循环：重载配置、同步 cron 注册、触发到期的间隔配置
func (s *SchedulerService) loop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.reconcileSchedules()
	for {
		select {
		case <-ticker.C:
			s.reconcileSchedules()
		case <-s.stopChan:
			return
		}
	}
}

// reconcileSchedules 将调度状态同步到当前启用的配置集合
func (s *SchedulerService) reconcileSchedules() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	configs, err := s.configs.ListEnabled(ctx)
	if err != nil {
		slog.Error("重载校验配置失败", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool, len(configs))
	for i := range configs {
		cfg := configs[i]
		active[cfg.ID] = true

		if cfg.ScheduleCron != "" {
			s.syncCronEntry(cfg)
			continue
		}
		// cron 配置切回间隔模式时移除旧注册
		s.removeCronEntry(cfg.ID)
		s.maybeTriggerInterval(cfg)
	}

	// 清理已删除或禁用配置的注册
	for configID := range s.cronEntries {
		if !active[configID] {
			s.removeCronEntry(configID)
		}
	}
	for configID := range s.lastRun {
		if !active[configID] {
			delete(s.lastRun, configID)
		}
	}
}

// syncCronEntry 注册或更新配置的 cron 任务
func (s *SchedulerService) syncCronEntry(cfg models.ValidationConfig) {
	existing, ok := s.cronEntries[cfg.ID]
	if ok && existing.spec == cfg.ScheduleCron {
		return
	}
	if ok {
		s.cron.Remove(existing.entryID)
	}

	configID := cfg.ID
	entryID, err := s.cron.AddFunc(cfg.ScheduleCron, func() {
		s.trigger(configID)
	})
	if err != nil {
		slog.Error("注册 cron 调度失败",
			"config_id", cfg.ID,
			"schedule_cron", cfg.ScheduleCron,
			"error", err)
		delete(s.cronEntries, cfg.ID)
		return
	}

	s.cronEntries[cfg.ID] = cronRegistration{spec: cfg.ScheduleCron, entryID: entryID}
	slog.Info("已注册 cron 调度",
		"config_id", cfg.ID,
		"schedule_cron", cfg.ScheduleCron)
}

// removeCronEntry 移除配置的 cron 注册
func (s *SchedulerService) removeCronEntry(configID string) {
	if existing, ok := s.cronEntries[configID]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.cronEntries, configID)
	}
}

// maybeTriggerInterval 间隔到期的配置立即触发
func (s *SchedulerService) maybeTriggerInterval(cfg models.ValidationConfig) {
	last, seen := s.lastRun[cfg.ID]
	if seen && time.Since(last) < cfg.Interval() {
		return
	}
	s.lastRun[cfg.ID] = time.Now()
	go s.trigger(cfg.ID)
}

// trigger 执行一次校验触发，碰撞合并不视为错误
func (s *SchedulerService) trigger(configID string) {
	ctx := context.Background()
	run, err := s.orchestrator.Trigger(ctx, configID)
	if errors.Is(err, validation.ErrRunActive) {
		slog.Info("配置存在活跃运行，本次调度触发被合并", "config_id", configID)
		return
	}
	if err != nil {
		slog.Error("调度触发校验失败", "config_id", configID, "error", err)
		return
	}
	slog.Info("调度触发校验完成",
		"config_id", configID,
		"run_id", run.ID,
		"state", run.State)
}
