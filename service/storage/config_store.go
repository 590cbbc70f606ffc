/*
 * @module service/storage/config_store
 * @description 校验配置存储，提供配置的增删改查，运行编排通过 Get 读取配置快照
 * @architecture 分层架构 - 存储层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 配置创建 -> 调度引用 -> 运行读取 -> 更新在下一次运行生效
 * @rules 配置被删除后，进行中的运行在下一状态转换时以 NotFound 失败
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/models/validation_config.go, service/validation/orchestrator.go
 */

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"validator-service/service/models"
)

// ErrConfigNotFound 配置不存在
var ErrConfigNotFound = errors.New("校验配置不存在")

// ConfigStore 校验配置存储
type ConfigStore struct {
	db *gorm.DB
}

// NewConfigStore 创建配置存储实例
func NewConfigStore(db *gorm.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Get 按ID读取配置
func (s *ConfigStore) Get(ctx context.Context, configID string) (*models.ValidationConfig, error) {
	var config models.ValidationConfig
	err := s.db.WithContext(ctx).First(&config, "id = ?", configID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询校验配置失败: %w", err)
	}
	return &config, nil
}

// List 列出全部配置
func (s *ConfigStore) List(ctx context.Context) ([]models.ValidationConfig, error) {
	var configs []models.ValidationConfig
	if err := s.db.WithContext(ctx).Order("created_at").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("查询配置列表失败: %w", err)
	}
	return configs, nil
}

// ListEnabled 列出启用的配置，供调度器加载
func (s *ConfigStore) ListEnabled(ctx context.Context) ([]models.ValidationConfig, error) {
	var configs []models.ValidationConfig
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("created_at").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("查询启用配置失败: %w", err)
	}
	return configs, nil
}

// Create 创建配置
func (s *ConfigStore) Create(ctx context.Context, config *models.ValidationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	config.CreatedAt = time.Now()
	config.UpdatedAt = config.CreatedAt

	if err := s.db.WithContext(ctx).Create(config).Error; err != nil {
		return fmt.Errorf("创建校验配置失败: %w", err)
	}
	return nil
}

// Update 更新配置，编辑在下一次调度运行生效
func (s *ConfigStore) Update(ctx context.Context, config *models.ValidationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	var existing models.ValidationConfig
	err := s.db.WithContext(ctx).First(&existing, "id = ?", config.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrConfigNotFound
	}
	if err != nil {
		return fmt.Errorf("查询校验配置失败: %w", err)
	}

	config.CreatedAt = existing.CreatedAt
	config.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(config).Error; err != nil {
		return fmt.Errorf("更新校验配置失败: %w", err)
	}
	return nil
}

// Delete 删除配置
func (s *ConfigStore) Delete(ctx context.Context, configID string) error {
	result := s.db.WithContext(ctx).Delete(&models.ValidationConfig{}, "id = ?", configID)
	if result.Error != nil {
		return fmt.Errorf("删除校验配置失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConfigNotFound
	}
	return nil
}
