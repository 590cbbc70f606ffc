/*
 * @module service/validation/orchestrator
 * @description 运行编排器，驱动校验运行的状态机并串联抓取、对账、分级、告警各阶段
 * @architecture 编排层 - 带守卫的单向状态机，分布式运行锁保证单配置单活跃运行
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow pending -> fetching -> reconciling -> classifying -> deciding -> completed；任一阶段失败转入 failed
 * @rules 状态只前进；触发碰撞合并为无操作并返回活跃运行；失败运行保留部分结果且不发告警
 * @dependencies context, time, github.com/google/uuid
 * @refs fetcher.go, reconciler.go, classifier.go, alert_decider.go, service/storage
 */

package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"validator-service/service/events"
	"validator-service/service/metrics"
	"validator-service/service/models"
	"validator-service/service/runlock"
	"validator-service/service/storage"
)

// ErrRunActive 配置已有活跃运行，本次触发被合并
var ErrRunActive = errors.New("配置存在活跃运行，触发被合并")

// ErrConfigDisabled 配置已禁用
var ErrConfigDisabled = errors.New("校验配置已禁用")

// Orchestrator 校验运行编排器
type Orchestrator struct {
	configs    *storage.ConfigStore
	runs       *storage.RunStore
	fetcher    *DataFetcher
	reconciler *Reconciler
	decider    *AlertDecider
	lock       runlock.RunLock
	publisher  events.Publisher
	runTimeout time.Duration
}

// NewOrchestrator 创建运行编排器
// publisher 可为 nil，表示不发布运行事件
func NewOrchestrator(configs *storage.ConfigStore, runs *storage.RunStore,
	fetcher *DataFetcher, reconciler *Reconciler, decider *AlertDecider,
	lock runlock.RunLock, publisher events.Publisher) *Orchestrator {
	return &Orchestrator{
		configs:    configs,
		runs:       runs,
		fetcher:    fetcher,
		reconciler: reconciler,
		decider:    decider,
		lock:       lock,
		publisher:  publisher,
		runTimeout: 10 * time.Minute,
	}
}

// Trigger 同步执行一次校验运行，返回终态运行
// 配置已有活跃运行时返回该运行和 ErrRunActive，调用方视为合并成功
func (o *Orchestrator) Trigger(ctx context.Context, configID string) (*models.ValidationRun, error) {
	cfg, run, err := o.prepare(ctx, configID)
	if err != nil {
		return run, err
	}
	return o.execute(ctx, cfg, run), nil
}

// TriggerAsync 异步触发一次校验运行，立即返回 pending 状态的运行
func (o *Orchestrator) TriggerAsync(ctx context.Context, configID string) (*models.ValidationRun, error) {
	cfg, run, err := o.prepare(ctx, configID)
	if err != nil {
		return run, err
	}

	pending := *run
	go func() {
		o.execute(context.Background(), cfg, run)
	}()
	return &pending, nil
}

// prepare 触发前置：加载配置、抢占运行锁、落库 pending 运行
func (o *Orchestrator) prepare(ctx context.Context, configID string) (*models.ValidationConfig, *models.ValidationRun, error) {
	cfg, err := o.configs.Get(ctx, configID)
	if err != nil {
		return nil, nil, err
	}

	acquired, err := o.lock.TryLock(ctx, configID, o.runTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("抢占运行锁失败: %w", err)
	}
	if !acquired {
		active, lookupErr := o.runs.ActiveRun(ctx, configID)
		if lookupErr != nil {
			return nil, nil, ErrRunActive
		}
		return nil, active, ErrRunActive
	}

	run := &models.ValidationRun{
		ID:        uuid.New().String(),
		ConfigID:  configID,
		State:     models.RunPending,
		StartedAt: time.Now(),
	}
	if err := o.runs.Save(ctx, run); err != nil {
		_ = o.lock.Unlock(ctx, configID)
		return nil, nil, fmt.Errorf("创建运行记录失败: %w", err)
	}

	// 禁用配置的触发在抓取前失败，留下带原因的运行记录
	if !cfg.Enabled {
		o.fail(ctx, run, ErrConfigDisabled.Error())
		_ = o.lock.Unlock(ctx, configID)
		return nil, run, ErrConfigDisabled
	}

	o.publish(ctx, "run_started", cfg.ID, run)
	return cfg, run, nil
}

// execute 驱动状态机走完整个校验流水线
func (o *Orchestrator) execute(ctx context.Context, cfg *models.ValidationConfig, run *models.ValidationRun) *models.ValidationRun {
	defer func() {
		if err := o.lock.Unlock(context.Background(), cfg.ID); err != nil {
			slog.Warn("释放运行锁失败", "config_id", cfg.ID, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	slog.Info("校验运行开始",
		"config_id", cfg.ID,
		"run_id", run.ID,
		"services", len(cfg.Services()),
		"rules", len(cfg.ValidationRules))

	// 抓取阶段
	if !o.advance(runCtx, run, models.RunFetching) {
		return run
	}
	outcomes := o.fetcher.FetchAll(runCtx, cfg)
	run.FetchResults = outcomes
	if allFailed(outcomes) {
		o.fail(runCtx, run, "全部服务抓取失败，无可评估规则")
		return run
	}

	// 对账阶段
	if !o.advance(runCtx, run, models.RunReconciling) {
		return run
	}
	recon := o.reconciler.Reconcile(cfg, outcomes)
	run.RulesChecked = recon.RulesChecked
	run.RulesPassed = recon.RulesPassed
	run.RulesFailed = recon.RulesFailed
	run.KeysCompared = recon.KeysCompared
	if recon.RulesChecked == 0 {
		o.fail(runCtx, run, "没有任何规则可评估")
		return run
	}

	// 分级阶段
	if !o.advance(runCtx, run, models.RunClassifying) {
		return run
	}
	cls := Classify(recon.Anomalies)
	run.Anomalies = cls.Anomalies
	for _, anomaly := range cls.Anomalies {
		metrics.ObserveAnomaly(anomaly.Severity)
	}

	// 裁决阶段
	if !o.advance(runCtx, run, models.RunDeciding) {
		return run
	}
	run.AlertsSent = o.decider.Decide(runCtx, cfg, run, cls)

	o.complete(runCtx, run)
	slog.Info("校验运行完成",
		"config_id", cfg.ID,
		"run_id", run.ID,
		"anomalies", cls.Total(),
		"critical", cls.CriticalCount,
		"alerts", len(run.AlertsSent))
	o.publishFinal(runCtx, cfg.ID, run, cls)
	return run
}

// advance 状态机前进一步，守卫拒绝或落库失败即终结运行
func (o *Orchestrator) advance(ctx context.Context, run *models.ValidationRun, next models.RunState) bool {
	if !run.State.CanAdvanceTo(next) {
		o.fail(ctx, run, fmt.Sprintf("非法状态转移 %s -> %s", run.State, next))
		return false
	}
	run.State = next
	if err := o.runs.Save(ctx, run); err != nil {
		slog.Error("持久化运行状态失败",
			"run_id", run.ID,
			"state", next,
			"error", err)
		o.fail(ctx, run, fmt.Sprintf("持久化运行状态失败: %v", err))
		return false
	}
	return true
}

// complete 运行正常终结
func (o *Orchestrator) complete(ctx context.Context, run *models.ValidationRun) {
	run.State = models.RunCompleted
	now := time.Now()
	run.EndedAt = &now
	if err := o.runs.Save(ctx, run); err != nil {
		slog.Error("持久化运行终态失败", "run_id", run.ID, "error", err)
	}
	metrics.ObserveRun(models.RunCompleted, now.Sub(run.StartedAt))
}

// fail 运行失败终结，保留已产出的部分结果
func (o *Orchestrator) fail(ctx context.Context, run *models.ValidationRun, reason string) {
	run.State = models.RunFailed
	run.Reason = reason
	now := time.Now()
	run.EndedAt = &now
	if err := o.runs.Save(ctx, run); err != nil {
		slog.Error("持久化失败运行失败", "run_id", run.ID, "error", err)
	}
	slog.Warn("校验运行失败",
		"config_id", run.ConfigID,
		"run_id", run.ID,
		"reason", reason)
	metrics.ObserveRun(models.RunFailed, now.Sub(run.StartedAt))
	o.publish(ctx, "run_failed", run.ConfigID, run)
}

// publish 发布运行生命周期事件，发布失败只记录日志
func (o *Orchestrator) publish(ctx context.Context, eventType, configID string, run *models.ValidationRun) {
	if o.publisher == nil {
		return
	}
	event := events.RunEvent{
		EventType: eventType,
		ConfigID:  configID,
		RunID:     run.ID,
		State:     run.State,
		Reason:    run.Reason,
		Timestamp: time.Now(),
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		slog.Warn("发布运行事件失败",
			"run_id", run.ID,
			"event_type", eventType,
			"error", err)
	}
}

// publishFinal 发布携带异常统计的完成事件
func (o *Orchestrator) publishFinal(ctx context.Context, configID string, run *models.ValidationRun, cls Classification) {
	if o.publisher == nil {
		return
	}
	event := events.RunEvent{
		EventType:     "run_completed",
		ConfigID:      configID,
		RunID:         run.ID,
		State:         run.State,
		AnomalyCount:  cls.Total(),
		CriticalCount: cls.CriticalCount,
		Timestamp:     time.Now(),
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		slog.Warn("发布运行事件失败",
			"run_id", run.ID,
			"event_type", "run_completed",
			"error", err)
	}
}

// allFailed 是否全部服务抓取失败
func allFailed(outcomes map[string]models.FetchOutcome) bool {
	for _, outcome := range outcomes {
		if outcome.Status == models.FetchOk {
			return false
		}
	}
	return true
}
