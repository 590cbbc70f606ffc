/*
 * @module service/validation/fetcher
 * @description 数据抓取器，并发抓取主服务和全部依赖服务的数据并归一化为记录
 * @architecture 并发扇出 - 工作池限流 + WaitGroup 屏障，单服务失败降级为数据
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 服务列表 -> 并发抓取（健康探测 -> 数据请求 -> 记录抽取） -> 全量结果屏障
 * @rules 任一服务失败不影响兄弟服务；屏障保证所有抓取结束后才返回；失败必须归类
 * @dependencies sync, context
 * @refs service/client, service/extraction, orchestrator.go
 */

package validation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"validator-service/client"
	"validator-service/service/extraction"
	"validator-service/service/metrics"
	"validator-service/service/models"
)

// DataFetcher 并发数据抓取器
type DataFetcher struct {
	client     client.ServiceClient
	extractor  extraction.Extractor
	maxWorkers int
}

// NewDataFetcher 创建数据抓取器
// maxWorkers 限制单次运行的并发抓取数，缺省5
func NewDataFetcher(svcClient client.ServiceClient, extractor extraction.Extractor, maxWorkers int) *DataFetcher {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	return &DataFetcher{
		client:     svcClient,
		extractor:  extractor,
		maxWorkers: maxWorkers,
	}
}

// FetchAll 并发抓取配置中的全部服务，返回按 service_id 索引的抓取结果
// 返回时保证所有已发起的抓取均已结束
func (f *DataFetcher) FetchAll(ctx context.Context, cfg *models.ValidationConfig) map[string]models.FetchOutcome {
	services := cfg.Services()
	outcomes := make(map[string]models.FetchOutcome, len(services))

	var mu sync.Mutex
	var wg sync.WaitGroup
	workerPool := make(chan struct{}, f.maxWorkers)

	for _, svc := range services {
		wg.Add(1)
		go func(endpoint models.ServiceEndpoint) {
			defer wg.Done()

			workerPool <- struct{}{}
			defer func() { <-workerPool }()

			outcome := f.fetchOne(ctx, cfg, endpoint)
			metrics.ObserveFetch(outcome.Status, time.Duration(outcome.DurationMs)*time.Millisecond)

			mu.Lock()
			outcomes[endpoint.ServiceID] = outcome
			mu.Unlock()
		}(svc)
	}

	wg.Wait()
	return outcomes
}

// fetchOne 抓取单个服务：健康探测 -> 数据请求 -> 记录抽取
func (f *DataFetcher) fetchOne(ctx context.Context, cfg *models.ValidationConfig, endpoint models.ServiceEndpoint) models.FetchOutcome {
	start := time.Now()
	outcome := models.FetchOutcome{
		ServiceID: endpoint.ServiceID,
		FetchedAt: start,
	}

	fetchCtx, cancel := context.WithTimeout(ctx, endpoint.Timeout())
	defer cancel()

	if err := f.client.HealthCheck(fetchCtx, endpoint); err != nil {
		slog.Warn("服务健康探测失败",
			"service_id", endpoint.ServiceID,
			"error", err)
		return f.failed(outcome, client.ClassifyFetchError(err), err, start)
	}

	raw, err := f.client.Fetch(fetchCtx, endpoint)
	if err != nil {
		slog.Warn("服务数据抓取失败",
			"service_id", endpoint.ServiceID,
			"error", err)
		return f.failed(outcome, client.ClassifyFetchError(err), err, start)
	}

	records, err := f.extractor.Extract(fetchCtx, raw, keyFieldFor(cfg, endpoint.ServiceID))
	if err != nil {
		slog.Warn("服务载荷抽取失败",
			"service_id", endpoint.ServiceID,
			"error", err)
		return f.failed(outcome, models.FetchParseError, err, start)
	}

	outcome.Status = models.FetchOk
	outcome.Records = records
	outcome.DurationMs = time.Since(start).Milliseconds()
	slog.Debug("服务数据抓取完成",
		"service_id", endpoint.ServiceID,
		"records", len(records),
		"duration_ms", outcome.DurationMs)
	return outcome
}

// failed 填充失败结果
func (f *DataFetcher) failed(outcome models.FetchOutcome, status models.FetchStatus, err error, start time.Time) models.FetchOutcome {
	outcome.Status = status
	outcome.RawError = err.Error()
	outcome.DurationMs = time.Since(start).Milliseconds()
	return outcome
}

// keyFieldFor 服务抓取使用的关联键字段：取第一条引用该服务的规则的关联键
func keyFieldFor(cfg *models.ValidationConfig, serviceID string) string {
	for _, rule := range cfg.ValidationRules {
		if rule.SourceService == serviceID || rule.TargetService == serviceID {
			return rule.JoinKey()
		}
	}
	return "id"
}
