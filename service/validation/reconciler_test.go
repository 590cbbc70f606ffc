package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-service/service/models"
)

func record(key string, fields map[string]models.Value) models.Record {
	if fields == nil {
		fields = map[string]models.Value{}
	}
	fields["id"] = models.StringValue(key)
	return models.Record{Key: key, Fields: fields}
}

func okOutcome(serviceID string, records ...models.Record) models.FetchOutcome {
	return models.FetchOutcome{ServiceID: serviceID, Status: models.FetchOk, Records: records}
}

func crossRuleConfig(fields ...models.FieldSpec) *models.ValidationConfig {
	return &models.ValidationConfig{
		ID: "cfg-1",
		PrimaryService: models.ServiceEndpointDoc{
			ServiceID: "billing",
		},
		DependentServices: models.ServiceEndpointList{
			{ServiceID: "ledger"},
		},
		ValidationRules: models.ValidationRuleList{
			{
				RuleID:         "rule-1",
				SourceService:  "billing",
				TargetService:  "ledger",
				KeyField:       "id",
				ExpectedFields: fields,
			},
		},
		IntervalMinutes: 60,
	}
}

func TestReconcileNumericTolerance(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{
		Path:       "usage",
		Comparator: models.CompareNumTolerance,
		Tolerance:  5,
	})

	// 差值在容差内不产生差异
	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", record("r1", map[string]models.Value{"usage": models.NumberValue(103)})),
		"ledger":  okOutcome("ledger", record("r1", map[string]models.Value{"usage": models.NumberValue(100)})),
	}
	result := reconciler.Reconcile(cfg, outcomes)
	assert.Empty(t, result.Anomalies)
	assert.Equal(t, 1, result.RulesPassed)
	assert.Equal(t, 1, result.KeysCompared)

	// 差值超出容差产生 Warning 级 tolerance_exceeded
	outcomes["billing"] = okOutcome("billing", record("r1", map[string]models.Value{"usage": models.NumberValue(110)}))
	result = reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.AnomalyToleranceExceeded, result.Anomalies[0].Kind)
	assert.Equal(t, models.SeverityWarning, result.Anomalies[0].Severity)
	assert.Equal(t, 1, result.RulesFailed)

	// 数值串与数值同样按数值比较
	outcomes["billing"] = okOutcome("billing", record("r1", map[string]models.Value{"usage": models.StringValue("102")}))
	result = reconciler.Reconcile(cfg, outcomes)
	assert.Empty(t, result.Anomalies)

	// 不可数值解释的值直接视为不匹配
	outcomes["billing"] = okOutcome("billing", record("r1", map[string]models.Value{"usage": models.StringValue("unknown")}))
	result = reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.AnomalyFieldMismatch, result.Anomalies[0].Kind)
}

func TestReconcileMissingCounterpart(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(
		models.FieldSpec{Path: "amount"},
		models.FieldSpec{Path: "status"},
		models.FieldSpec{Path: "region"},
	)

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing",
			record("r1", map[string]models.Value{"amount": models.NumberValue(1)}),
			record("r2", map[string]models.Value{"amount": models.NumberValue(2)}),
		),
		"ledger": okOutcome("ledger",
			record("r1", map[string]models.Value{"amount": models.NumberValue(1)}),
		),
	}

	result := reconciler.Reconcile(cfg, outcomes)
	// 对端缺失每个键只产出一条差异，不随期望字段数膨胀
	require.Len(t, result.Anomalies, 1)
	missing := result.Anomalies[0]
	assert.Equal(t, models.AnomalyMissingCounterpart, missing.Kind)
	assert.Equal(t, models.SeverityWarning, missing.Severity)
	assert.Equal(t, "r2", missing.Key)
	// 差异落在关联键字段上
	assert.Equal(t, "id", missing.Field)
	assert.Equal(t, 1, result.KeysCompared)
}

func TestReconcileMissingCounterpartReverse(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{Path: "amount"})

	// 目标侧多出的键同样产出对端缺失差异
	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", record("r1", map[string]models.Value{"amount": models.NumberValue(1)})),
		"ledger": okOutcome("ledger",
			record("r1", map[string]models.Value{"amount": models.NumberValue(1)}),
			record("r9", map[string]models.Value{"amount": models.NumberValue(9)}),
		),
	}

	result := reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.AnomalyMissingCounterpart, result.Anomalies[0].Kind)
	assert.Equal(t, "r9", result.Anomalies[0].Key)
	assert.True(t, result.Anomalies[0].Expected.IsNull())
	assert.Equal(t, "r9", result.Anomalies[0].Actual.String())
}

func TestReconcileAmbiguousKey(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{Path: "amount"})

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing",
			record("r1", map[string]models.Value{"amount": models.NumberValue(1)}),
			record("r1", map[string]models.Value{"amount": models.NumberValue(2)}),
		),
		"ledger": okOutcome("ledger", record("r1", map[string]models.Value{"amount": models.NumberValue(1)})),
	}

	result := reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.AnomalyAmbiguousKey, result.Anomalies[0].Kind)
	// 歧义键始终为 Critical
	assert.Equal(t, models.SeverityCritical, result.Anomalies[0].Severity)
	// 歧义键不参与字段比较
	assert.Equal(t, 0, result.KeysCompared)
}

func TestReconcileSetMembership(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{
		Path:          "status",
		Comparator:    models.CompareSetMembership,
		AllowedValues: []string{"active", "stopped"},
	})

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", record("r1", map[string]models.Value{"status": models.StringValue("active")})),
		"ledger":  okOutcome("ledger", record("r1", map[string]models.Value{"status": models.StringValue("stopped")})),
	}
	result := reconciler.Reconcile(cfg, outcomes)
	assert.Empty(t, result.Anomalies)

	outcomes["ledger"] = okOutcome("ledger", record("r1", map[string]models.Value{"status": models.StringValue("deleting")}))
	result = reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.AnomalyFieldMismatch, result.Anomalies[0].Kind)
}

func TestReconcileCriticalField(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{Path: "owner", Critical: true})

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", record("r1", map[string]models.Value{"owner": models.StringValue("alice")})),
		"ledger":  okOutcome("ledger", record("r1", map[string]models.Value{"owner": models.StringValue("bob")})),
	}

	result := reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.SeverityCritical, result.Anomalies[0].Severity)
}

func TestReconcileSelfCheck(t *testing.T) {
	reconciler := NewReconciler()
	cfg := &models.ValidationConfig{
		ID:             "cfg-1",
		PrimaryService: models.ServiceEndpointDoc{ServiceID: "billing"},
		ValidationRules: models.ValidationRuleList{
			{
				RuleID:         "self-1",
				SourceService:  "billing",
				ExpectedFields: []models.FieldSpec{{Path: "amount"}, {Path: "owner"}},
			},
		},
		IntervalMinutes: 60,
	}

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing",
			record("r1", map[string]models.Value{"amount": models.NumberValue(1), "owner": models.StringValue("alice")}),
			record("r2", map[string]models.Value{"amount": models.NumberValue(2)}),
		),
	}

	result := reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.AnomalyMissingField, result.Anomalies[0].Kind)
	assert.Equal(t, "r2", result.Anomalies[0].Key)
	assert.Equal(t, "owner", result.Anomalies[0].Field)
}

func TestReconcileSkipsFailedServices(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{Path: "amount"})

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", record("r1", nil)),
		"ledger":  {ServiceID: "ledger", Status: models.FetchTimeout, RawError: "超时"},
	}

	result := reconciler.Reconcile(cfg, outcomes)
	// 引用失败抓取的规则被跳过
	assert.Equal(t, 0, result.RulesChecked)
	assert.Empty(t, result.Anomalies)
}

func TestReconcileCustomExpr(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{
		Path:       "usage",
		CustomExpr: "actualNum >= expectedNum*0.9 && actualNum <= expectedNum*1.1",
	})

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", record("r1", map[string]models.Value{"usage": models.NumberValue(100)})),
		"ledger":  okOutcome("ledger", record("r1", map[string]models.Value{"usage": models.NumberValue(105)})),
	}

	result := reconciler.Reconcile(cfg, outcomes)
	assert.Empty(t, result.Anomalies)

	outcomes["ledger"] = okOutcome("ledger", record("r1", map[string]models.Value{"usage": models.NumberValue(150)}))
	result = reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, models.AnomalyFieldMismatch, result.Anomalies[0].Kind)
}

func TestReconcileCustomExprFallback(t *testing.T) {
	reconciler := NewReconciler()
	// 非法表达式回退到声明比较器（缺省等值）
	cfg := crossRuleConfig(models.FieldSpec{
		Path:       "status",
		CustomExpr: "this is not go",
	})

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", record("r1", map[string]models.Value{"status": models.StringValue("active")})),
		"ledger":  okOutcome("ledger", record("r1", map[string]models.Value{"status": models.StringValue("active")})),
	}
	result := reconciler.Reconcile(cfg, outcomes)
	assert.Empty(t, result.Anomalies)

	outcomes["ledger"] = okOutcome("ledger", record("r1", map[string]models.Value{"status": models.StringValue("stopped")}))
	result = reconciler.Reconcile(cfg, outcomes)
	require.Len(t, result.Anomalies, 1)
}

func TestReconcileDeterministic(t *testing.T) {
	reconciler := NewReconciler()
	cfg := crossRuleConfig(models.FieldSpec{Path: "amount"})

	srcRecords := make([]models.Record, 0, 20)
	tgtRecords := make([]models.Record, 0, 10)
	for i := 0; i < 20; i++ {
		srcRecords = append(srcRecords, record(fmt.Sprintf("r%02d", i), map[string]models.Value{"amount": models.NumberValue(float64(i))}))
	}
	for i := 0; i < 10; i++ {
		tgtRecords = append(tgtRecords, record(fmt.Sprintf("r%02d", i), map[string]models.Value{"amount": models.NumberValue(float64(i + 100))}))
	}

	outcomes := map[string]models.FetchOutcome{
		"billing": okOutcome("billing", srcRecords...),
		"ledger":  okOutcome("ledger", tgtRecords...),
	}

	first := reconciler.Reconcile(cfg, outcomes)
	second := reconciler.Reconcile(cfg, outcomes)

	require.Equal(t, len(first.Anomalies), len(second.Anomalies))
	for i := range first.Anomalies {
		assert.Equal(t, first.Anomalies[i].Key, second.Anomalies[i].Key)
		assert.Equal(t, first.Anomalies[i].Field, second.Anomalies[i].Field)
		assert.Equal(t, first.Anomalies[i].Kind, second.Anomalies[i].Kind)
	}
}
