/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、引擎组件装配和调度器启动
 * @architecture 分层架构 - 服务层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 应用启动时执行初始化流程：数据库 -> 迁移 -> 引擎组件 -> 调度器
 * @rules 确保所有依赖服务正常启动后才提供API服务；Redis 不可用时回退到内存实现
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs main.go, service/validation/orchestrator.go
 */

package service

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"validator-service/client"
	"validator-service/service/events"
	"validator-service/service/extraction"
	"validator-service/service/models"
	"validator-service/service/notifier"
	"validator-service/service/runlock"
	"validator-service/service/scheduler"
	"validator-service/service/storage"
	"validator-service/service/suppression"
	"validator-service/service/validation"
)

var (
	DB                     *gorm.DB
	GlobalConfigStore      *storage.ConfigStore
	GlobalRunStore         *storage.RunStore
	GlobalNotifier         *notifier.Notifier
	GlobalOrchestrator     *validation.Orchestrator
	GlobalSchedulerService *scheduler.SchedulerService
	GlobalEventPublisher   *events.KafkaPublisher
)

func init() {
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 初始化数据库连接
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		// 使用分离的环境变量构建连接字符串
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "things2024")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations 运行数据库迁移
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	if err := DB.AutoMigrate(
		&models.ValidationConfig{},
		&models.ValidationRun{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	log.Println("数据库表结构迁移完成")
}

// initServices 初始化引擎组件
func initServices() {
	GlobalConfigStore = storage.NewConfigStore(DB)
	GlobalRunStore = storage.NewRunStore(DB)
	GlobalNotifier = notifier.NewNotifier()

	// 记录抽取器：配置了 GEMINI_API_KEY 时启用AI辅助抽取，失败有界重试
	var extractor extraction.Extractor = extraction.NewJSONExtractor()
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		genaiExtractor, err := extraction.NewGenaiExtractor(apiKey, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			log.Printf("AI抽取器初始化失败，回退到JSON抽取: %v", err)
		} else {
			extractor = genaiExtractor
			log.Println("AI辅助记录抽取已启用")
		}
	}
	extractor = extraction.WithRetry(extractor, 1)

	// 抑制台账与运行锁：Redis 不可用时回退到内存实现（单实例模式）
	var ledger suppression.Ledger
	if redisLedger, err := suppression.NewRedisLedger(); err != nil {
		log.Printf("Redis 抑制台账初始化失败，回退到内存实现: %v", err)
		ledger = suppression.NewMemoryLedger()
	} else {
		ledger = redisLedger
	}

	var lock runlock.RunLock
	if redisLock, err := runlock.NewRedisRunLock(); err != nil {
		log.Printf("Redis 运行锁初始化失败，回退到内存实现: %v", err)
		lock = runlock.NewMemoryRunLock()
	} else {
		lock = redisLock
	}

	maxWorkers, _ := strconv.Atoi(getEnvWithDefault("FETCH_MAX_WORKERS", "5"))
	fetcher := validation.NewDataFetcher(client.NewHTTPServiceClient(), extractor, maxWorkers)
	reconciler := validation.NewReconciler()
	decider := validation.NewAlertDecider(ledger, GlobalNotifier)

	// 运行事件发布：KAFKA_BROKERS 未配置时禁用
	GlobalEventPublisher = events.NewKafkaPublisherFromEnv()
	var publisher events.Publisher
	if GlobalEventPublisher != nil {
		publisher = GlobalEventPublisher
		log.Println("Kafka 运行事件发布已启用")
	}

	GlobalOrchestrator = validation.NewOrchestrator(
		GlobalConfigStore, GlobalRunStore, fetcher, reconciler, decider, lock, publisher)

	GlobalSchedulerService = scheduler.NewSchedulerService(GlobalConfigStore, GlobalOrchestrator)
	GlobalSchedulerService.Start()

	log.Println("服务初始化完成")
}
