/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, time
 * @refs service/models
 */

package testutil

import (
	"fmt"
	"time"

	"validator-service/service/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.ValidationConfig{},
		&models.ValidationRun{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	// 清空所有表的数据
	tables := []string{
		"validation_configs",
		"validation_runs",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// ConfigOption 校验配置选项函数类型
type ConfigOption func(*models.ValidationConfig)

// CreateValidationConfig 创建测试校验配置
func (f *TestDataFactory) CreateValidationConfig(opts ...ConfigOption) *models.ValidationConfig {
	config := &models.ValidationConfig{
		ID:   generateID("cfg"),
		Name: "测试校验配置",
		PrimaryService: models.ServiceEndpointDoc{
			ServiceID: "billing",
			Name:      "计费服务",
			Endpoint:  "http://billing.local/api/records",
		},
		DependentServices: models.ServiceEndpointList{
			{
				ServiceID: "ledger",
				Name:      "账本服务",
				Endpoint:  "http://ledger.local/api/records",
			},
		},
		ValidationRules: models.ValidationRuleList{
			{
				RuleID:        "rule-amount",
				Name:          "金额一致性",
				SourceService: "billing",
				TargetService: "ledger",
				KeyField:      "id",
				ExpectedFields: []models.FieldSpec{
					{Path: "amount", Comparator: models.CompareEquality},
				},
			},
		},
		AlertPolicy: models.AlertPolicyDoc{
			Channels: []models.ChannelConfig{
				{Channel: models.ChannelWebhook, Enabled: true, Target: "http://alerts.local/hook"},
			},
		},
		IntervalMinutes: 60,
		Enabled:         true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(config)
	}

	err := f.DB.Create(config).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test validation config: %v", err))
	}

	return config
}

// RunOption 校验运行选项函数类型
type RunOption func(*models.ValidationRun)

// CreateValidationRun 创建测试校验运行
func (f *TestDataFactory) CreateValidationRun(configID string, opts ...RunOption) *models.ValidationRun {
	run := &models.ValidationRun{
		ID:        generateID("run"),
		ConfigID:  configID,
		State:     models.RunCompleted,
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// 应用选项
	for _, opt := range opts {
		opt(run)
	}

	err := f.DB.Create(run).Error
	if err != nil {
		panic(fmt.Sprintf("failed to create test validation run: %v", err))
	}

	return run
}

// 辅助函数
func generateID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), generateSuffix())
}

func generateSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()%100000)
}
