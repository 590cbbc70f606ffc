/*
 * @module service/validation/classifier
 * @description 异常分级器，对原始差异去重、分级计数并按严重级别排序
 * @architecture 纯计算层 - 差异序列进，有序异常序列出
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 原始差异 -> (rule, key, field) 去重保留最高级别 -> 严重级别降序排序 -> 分级计数
 * @rules 同一 (rule, key, field) 最多产出一条异常；排序稳定，同级别保持检出顺序
 * @dependencies sort
 * @refs reconciler.go, alert_decider.go
 */

package validation

import (
	"sort"

	"validator-service/service/models"
)

// Classification 分级结果
type Classification struct {
	Anomalies     []models.Anomaly
	CriticalCount int
	WarningCount  int
	InfoCount     int
}

// Total 异常总数
func (c Classification) Total() int {
	return len(c.Anomalies)
}

// Classify 对原始差异去重并分级排序
func Classify(raw []models.Anomaly) Classification {
	// 去重：同一 (rule, key, field) 保留最高严重级别，先检出者优先
	byRef := make(map[string]int, len(raw))
	deduped := make([]models.Anomaly, 0, len(raw))
	for _, anomaly := range raw {
		ref := anomaly.Ref()
		if idx, seen := byRef[ref]; seen {
			if anomaly.Severity.Rank() > deduped[idx].Severity.Rank() {
				deduped[idx] = anomaly
			}
			continue
		}
		byRef[ref] = len(deduped)
		deduped = append(deduped, anomaly)
	}

	// Critical 在前，同级别保持检出顺序
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Severity.Rank() > deduped[j].Severity.Rank()
	})

	result := Classification{Anomalies: deduped}
	for _, anomaly := range deduped {
		switch anomaly.Severity {
		case models.SeverityCritical:
			result.CriticalCount++
		case models.SeverityWarning:
			result.WarningCount++
		default:
			result.InfoCount++
		}
	}
	return result
}
