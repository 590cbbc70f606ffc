/*
 * @module service/validation/reconciler
 * @description 数据对账器，按关联键配对两侧记录并逐字段比较，产出原始差异
 * @architecture 纯计算层 - 无IO，相同输入产出相同差异序列
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 抓取结果 -> 规则遍历 -> 记录配对 -> 字段比较 -> 差异序列
 * @rules 遍历顺序固定：规则声明序 -> 关联键字典序 -> 期望字段声明序；
 *        缺失对端每个键只产出一条差异；重复关联键直接判为 Critical 歧义
 * @dependencies sort, math
 * @refs fetcher.go, classifier.go, custom_expr.go
 */

package validation

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"validator-service/service/models"
)

// ReconcileResult 对账结果：差异序列与规则统计
type ReconcileResult struct {
	Anomalies    []models.Anomaly
	RulesChecked int
	RulesPassed  int
	RulesFailed  int
	KeysCompared int
}

// Reconciler 数据对账器
type Reconciler struct {
	exprs *ExprEvaluator
}

// NewReconciler 创建对账器
func NewReconciler() *Reconciler {
	return &Reconciler{exprs: NewExprEvaluator()}
}

// Reconcile 按配置规则对账抓取结果
// 引用了失败抓取的规则被跳过，不计入已检查规则数
func (r *Reconciler) Reconcile(cfg *models.ValidationConfig, outcomes map[string]models.FetchOutcome) ReconcileResult {
	result := ReconcileResult{}

	for _, rule := range cfg.ValidationRules {
		src, ok := outcomes[rule.SourceService]
		if !ok || src.Status != models.FetchOk {
			slog.Info("规则源服务抓取失败，跳过规则",
				"rule_id", rule.RuleID,
				"source_service", rule.SourceService)
			continue
		}

		before := len(result.Anomalies)
		if rule.TargetService == "" {
			r.selfCheck(rule, src.Records, &result)
		} else {
			tgt, ok := outcomes[rule.TargetService]
			if !ok || tgt.Status != models.FetchOk {
				slog.Info("规则目标服务抓取失败，跳过规则",
					"rule_id", rule.RuleID,
					"target_service", rule.TargetService)
				continue
			}
			r.crossCheck(rule, src.Records, tgt.Records, &result)
		}

		result.RulesChecked++
		if len(result.Anomalies) == before {
			result.RulesPassed++
		} else {
			result.RulesFailed++
		}
	}

	return result
}

// selfCheck 无目标服务的自检规则：期望字段必须存在且非空
func (r *Reconciler) selfCheck(rule models.ValidationRule, records []models.Record, result *ReconcileResult) {
	joinKey := rule.JoinKey()
	for _, record := range records {
		key := record.Field(joinKey).String()
		result.KeysCompared++
		for _, spec := range rule.ExpectedFields {
			if record.Field(spec.Path).IsNull() {
				result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, spec.Path,
					models.AnomalyMissingField, models.NullValue(), models.NullValue(), spec.Critical))
			}
		}
	}
}

// crossCheck 源/目标双向配对比较
func (r *Reconciler) crossCheck(rule models.ValidationRule, srcRecords, tgtRecords []models.Record, result *ReconcileResult) {
	joinKey := rule.JoinKey()
	srcIndex := indexByKey(srcRecords, joinKey)
	tgtIndex := indexByKey(tgtRecords, joinKey)

	// 一侧出现重复关联键即为歧义，该键不再参与比较
	for _, key := range sortedKeys(srcIndex) {
		if len(srcIndex[key]) > 1 {
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, joinKey,
				models.AnomalyAmbiguousKey, models.NullValue(), models.NullValue(), true))
		}
	}
	for _, key := range sortedKeys(tgtIndex) {
		if len(tgtIndex[key]) > 1 {
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, joinKey,
				models.AnomalyAmbiguousKey, models.NullValue(), models.NullValue(), true))
		}
	}

	for _, key := range sortedKeys(srcIndex) {
		if len(srcIndex[key]) > 1 || len(tgtIndex[key]) > 1 {
			continue
		}
		srcRec := srcIndex[key][0]

		tgtRecs, found := tgtIndex[key]
		if !found {
			// 对端缺失：每个键只产出一条差异，落在关联键字段上
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, joinKey,
				models.AnomalyMissingCounterpart, models.StringValue(key), models.NullValue(), false))
			continue
		}

		result.KeysCompared++
		tgtRec := tgtRecs[0]
		for _, spec := range rule.ExpectedFields {
			r.compareField(rule, spec, key, srcRec, tgtRec, result)
		}
	}

	// 反向：目标侧存在但源侧缺失的键
	for _, key := range sortedKeys(tgtIndex) {
		if len(tgtIndex[key]) > 1 {
			continue
		}
		if _, found := srcIndex[key]; !found {
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, joinKey,
				models.AnomalyMissingCounterpart, models.NullValue(), models.StringValue(key), false))
		}
	}
}

// compareField 按声明比较器比较单个期望字段
func (r *Reconciler) compareField(rule models.ValidationRule, spec models.FieldSpec, key string, srcRec, tgtRec models.Record, result *ReconcileResult) {
	expected := srcRec.Field(spec.Path)
	actual := tgtRec.Field(spec.Path)

	if spec.CustomExpr != "" {
		match, err := r.exprs.Compare(spec.CustomExpr, expected, actual)
		if err == nil {
			if !match {
				result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, spec.Path,
					models.AnomalyFieldMismatch, expected, actual, spec.Critical))
			}
			return
		}
		// 表达式失败回退到声明比较器
		slog.Warn("自定义比较表达式求值失败，回退到声明比较器",
			"rule_id", rule.RuleID,
			"field", spec.Path,
			"error", err)
	}

	switch spec.EffectiveComparator() {
	case models.CompareNumTolerance:
		a, okA := expected.AsNumber()
		b, okB := actual.AsNumber()
		if !okA || !okB {
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, spec.Path,
				models.AnomalyFieldMismatch, expected, actual, spec.Critical))
			return
		}
		if math.Abs(a-b) > spec.Tolerance {
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, spec.Path,
				models.AnomalyToleranceExceeded, expected, actual, spec.Critical))
		}
	case models.CompareSetMembership:
		// 合法值集合为空视为配置缺陷，退化为等值比较
		if len(spec.AllowedValues) == 0 {
			if !expected.Equal(actual) {
				result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, spec.Path,
					models.AnomalyFieldMismatch, expected, actual, spec.Critical))
			}
			return
		}
		if !inSet(expected, spec.AllowedValues) || !inSet(actual, spec.AllowedValues) {
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, spec.Path,
				models.AnomalyFieldMismatch, expected, actual, spec.Critical))
		}
	default:
		if !expected.Equal(actual) {
			result.Anomalies = append(result.Anomalies, newAnomaly(rule, key, spec.Path,
				models.AnomalyFieldMismatch, expected, actual, spec.Critical))
		}
	}
}

// newAnomaly 构造一条差异，严重级别由差异类型和关键字段标记决定
func newAnomaly(rule models.ValidationRule, key, field string, kind models.AnomalyKind, expected, actual models.Value, critical bool) models.Anomaly {
	return models.Anomaly{
		RuleID:        rule.RuleID,
		SourceService: rule.SourceService,
		TargetService: rule.TargetService,
		Key:           key,
		Field:         field,
		Kind:          kind,
		Expected:      expected,
		Actual:        actual,
		Severity:      severityFor(kind, critical),
		DetectedAt:    time.Now(),
	}
}

// severityFor 差异类型到严重级别的映射
// 歧义键与关键字段为 Critical，对端缺失和容差超限为 Warning，其余为 Info
func severityFor(kind models.AnomalyKind, critical bool) models.Severity {
	if kind == models.AnomalyAmbiguousKey {
		return models.SeverityCritical
	}
	if critical {
		return models.SeverityCritical
	}
	switch kind {
	case models.AnomalyMissingCounterpart, models.AnomalyToleranceExceeded:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// indexByKey 按关联键索引记录，关联键为空的记录被忽略
func indexByKey(records []models.Record, joinKey string) map[string][]models.Record {
	index := make(map[string][]models.Record, len(records))
	for _, record := range records {
		key := record.Field(joinKey)
		if key.IsNull() {
			continue
		}
		index[key.String()] = append(index[key.String()], record)
	}
	return index
}

// sortedKeys 关联键字典序，保证比较顺序确定
func sortedKeys(index map[string][]models.Record) []string {
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// inSet 值的字符串表示是否属于合法值集合
func inSet(v models.Value, allowed []string) bool {
	s := v.String()
	for _, candidate := range allowed {
		if s == candidate {
			return true
		}
	}
	return false
}
