/*
 * @module service/storage/run_store
 * @description 校验运行存储，运行过程增量落库，终态运行只追加不可更新
 * @architecture 分层架构 - 存储层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 运行创建 -> 状态推进落库 -> 终态固化为历史记录
 * @rules 已落库的终态运行拒绝再次写入；失败运行保留已计算的部分结果用于诊断
 * @dependencies gorm.io/gorm
 * @refs service/models/run.go, service/validation/orchestrator.go
 */

package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"validator-service/service/models"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("校验运行不存在")

// ErrRunTerminal 运行已进入终态，禁止更新
var ErrRunTerminal = errors.New("校验运行已终结，记录不可更新")

// RunStore 校验运行存储
type RunStore struct {
	db *gorm.DB
}

// NewRunStore 创建运行存储实例
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// Save 保存运行，存在则更新；已落库终态的运行拒绝覆盖
func (s *RunStore) Save(ctx context.Context, run *models.ValidationRun) error {
	var existing models.ValidationRun
	err := s.db.WithContext(ctx).Select("id", "state").First(&existing, "id = ?", run.ID).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
			return fmt.Errorf("创建校验运行失败: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("查询校验运行失败: %w", err)
	}

	if existing.State.IsTerminal() {
		return ErrRunTerminal
	}

	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("更新校验运行失败: %w", err)
	}
	return nil
}

// Get 按ID读取运行
func (s *RunStore) Get(ctx context.Context, runID string) (*models.ValidationRun, error) {
	var run models.ValidationRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询校验运行失败: %w", err)
	}
	return &run, nil
}

// ListByConfig 按配置列出运行历史，最新在前
func (s *RunStore) ListByConfig(ctx context.Context, configID string, limit int) ([]models.ValidationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.ValidationRun
	err := s.db.WithContext(ctx).
		Where("config_id = ?", configID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("查询运行历史失败: %w", err)
	}
	return runs, nil
}

// ActiveRun 查找配置当前的非终态运行
func (s *RunStore) ActiveRun(ctx context.Context, configID string) (*models.ValidationRun, error) {
	var run models.ValidationRun
	err := s.db.WithContext(ctx).
		Where("config_id = ? AND state NOT IN ?", configID, []models.RunState{models.RunCompleted, models.RunFailed}).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询活跃运行失败: %w", err)
	}
	return &run, nil
}
