/*
 * @module service/extraction/extractor
 * @description 记录抽取器，将服务原始载荷归一化为结构化记录，支持确定性JSON抽取和AI辅助抽取
 * @architecture 策略模式 - 抽取能力作为可插拔端口注入抓取器
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 原始载荷 -> 抽取 -> 失败有界重试 -> 记录序列/ParseError
 * @rules 抽取实现不假定确定性，失败重试不超过配置上限（缺省1次），最终失败映射为 ParseError
 * @dependencies encoding/json
 * @refs genai_extractor.go, service/validation/fetcher.go
 */

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"validator-service/service/models"
)

// Extractor 记录抽取接口：原始载荷 -> 归一化记录序列
type Extractor interface {
	Extract(ctx context.Context, raw []byte, keyField string) ([]models.Record, error)
}

// WithRetry 包装抽取器并附加有界重试
// 抽取实现可能不确定，重试一次后仍失败即放弃
func WithRetry(inner Extractor, maxRetries int) Extractor {
	if maxRetries < 0 {
		maxRetries = 1
	}
	return &retryingExtractor{inner: inner, maxRetries: maxRetries}
}

type retryingExtractor struct {
	inner      Extractor
	maxRetries int
}

func (r *retryingExtractor) Extract(ctx context.Context, raw []byte, keyField string) ([]models.Record, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		records, err := r.inner.Extract(ctx, raw, keyField)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("记录抽取失败（重试 %d 次后）: %w", r.maxRetries, lastErr)
}

// JSONExtractor 确定性JSON抽取器
// 支持三种载荷形态：记录数组、{"records": [...]} 包装对象、单个记录对象
type JSONExtractor struct{}

// NewJSONExtractor 创建JSON抽取器
func NewJSONExtractor() *JSONExtractor {
	return &JSONExtractor{}
}

// Extract 解析JSON载荷为记录序列
func (e *JSONExtractor) Extract(_ context.Context, raw []byte, keyField string) ([]models.Record, error) {
	var arr []map[string]interface{}
	if err := json.Unmarshal(raw, &arr); err == nil {
		return buildRecords(arr, keyField), nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("载荷不是合法的JSON: %w", err)
	}

	// 包装对象：取 records/data/items 中第一个存在的数组
	for _, field := range []string{"records", "data", "items"} {
		if nested, ok := obj[field].([]interface{}); ok {
			rows := make([]map[string]interface{}, 0, len(nested))
			for _, item := range nested {
				if row, ok := item.(map[string]interface{}); ok {
					rows = append(rows, row)
				}
			}
			return buildRecords(rows, keyField), nil
		}
	}

	// 单记录对象
	return buildRecords([]map[string]interface{}{obj}, keyField), nil
}

// buildRecords 将解析行转换为记录，关联键取 keyField 字段的字符串表示
func buildRecords(rows []map[string]interface{}, keyField string) []models.Record {
	records := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]models.Value, len(row))
		// 字段按名称排序写入，保证记录构建的确定性
		names := make([]string, 0, len(row))
		for name := range row {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fields[name] = models.ValueOf(row[name])
		}

		record := models.Record{Fields: fields}
		if key, ok := fields[keyField]; ok && !key.IsNull() {
			record.Key = key.String()
		}
		records = append(records, record)
	}
	return records
}

var _ Extractor = (*JSONExtractor)(nil)
