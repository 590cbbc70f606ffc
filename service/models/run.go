/*
 * @module service/models/run
 * @description 校验运行模型，包含运行状态机、抓取结果、异常与告警记录
 * @architecture 领域模型层 - 运行实体
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow pending -> fetching -> reconciling -> classifying -> deciding -> completed，任一状态可转入 failed
 * @rules 状态只能前进不能回退；终态运行为只追加的历史记录；alerts_sent 仅在 deciding 完成后填充
 * @dependencies gorm.io/gorm, time
 * @refs validation_config.go, service/validation/orchestrator.go
 */

package models

import (
	"time"
)

// RunState 校验运行状态
type RunState string

const (
	RunPending     RunState = "pending"
	RunFetching    RunState = "fetching"
	RunReconciling RunState = "reconciling"
	RunClassifying RunState = "classifying"
	RunDeciding    RunState = "deciding"
	RunCompleted   RunState = "completed"
	RunFailed      RunState = "failed"
)

// runOrder 状态机前进序，failed 可从任意非终态进入
var runOrder = map[RunState]int{
	RunPending:     0,
	RunFetching:    1,
	RunReconciling: 2,
	RunClassifying: 3,
	RunDeciding:    4,
	RunCompleted:   5,
}

// IsTerminal 是否为终态
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanAdvanceTo 状态机守卫：只允许严格前进，failed 只能从非终态进入
func (s RunState) CanAdvanceTo(next RunState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == RunFailed {
		return true
	}
	from, ok1 := runOrder[s]
	to, ok2 := runOrder[next]
	return ok1 && ok2 && to == from+1
}

// FetchStatus 单服务抓取结果状态
type FetchStatus string

const (
	FetchOk         FetchStatus = "ok"
	FetchTimeout    FetchStatus = "timeout"
	FetchAuthError  FetchStatus = "auth_error"
	FetchHTTPError  FetchStatus = "http_error"
	FetchParseError FetchStatus = "parse_error"
)

// Record 归一化后的业务记录
type Record struct {
	Key    string           `json:"key"`
	Fields map[string]Value `json:"fields"`
}

// Field 读取字段值，缺失字段返回 null 值
func (r Record) Field(path string) Value {
	if v, ok := r.Fields[path]; ok {
		return v
	}
	return NullValue()
}

// FetchOutcome 单服务抓取结果，失败被降级为数据而非错误
type FetchOutcome struct {
	ServiceID  string      `json:"service_id"`
	Status     FetchStatus `json:"status"`
	Records    []Record    `json:"records,omitempty"`
	RawError   string      `json:"raw_error,omitempty"`
	FetchedAt  time.Time   `json:"fetched_at"`
	DurationMs int64       `json:"duration_ms"`
}

// Severity 异常严重级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank 严重级别排序权重，Critical 最高
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AnomalyKind 异常类型
type AnomalyKind string

const (
	AnomalyFieldMismatch      AnomalyKind = "field_mismatch"
	AnomalyToleranceExceeded  AnomalyKind = "tolerance_exceeded"
	AnomalyMissingCounterpart AnomalyKind = "missing_counterpart"
	AnomalyAmbiguousKey       AnomalyKind = "ambiguous_key"
	AnomalyMissingField       AnomalyKind = "missing_field"
)

// Anomaly 检出的数据异常，运行内只追加、创建后不可变
type Anomaly struct {
	RuleID        string      `json:"rule_id"`
	SourceService string      `json:"source_service"`
	TargetService string      `json:"target_service,omitempty"`
	Key           string      `json:"key"`
	Field         string      `json:"field"`
	Kind          AnomalyKind `json:"kind"`
	Expected      Value       `json:"expected"`
	Actual        Value       `json:"actual"`
	Severity      Severity    `json:"severity"`
	DetectedAt    time.Time   `json:"detected_at"`
}

// Ref 异常的去重标识 (rule_id, key, field)
func (a Anomaly) Ref() string {
	return a.RuleID + "/" + a.Key + "/" + a.Field
}

// AlertRecord 告警发送记录
type AlertRecord struct {
	Channel       AlertChannel `json:"channel"`
	AnomalyRefs   []string     `json:"anomaly_refs"`
	SentAt        time.Time    `json:"sent_at"`
	Suppressed    bool         `json:"suppressed"`
	Delivered     bool         `json:"delivered"`
	DeliveryError string       `json:"delivery_error,omitempty"`
}

// ValidationRun 一次校验运行，终态后成为不可变历史记录
type ValidationRun struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"run_id"`
	ConfigID     string          `gorm:"index;type:varchar(36);not null" json:"config_id"`
	State        RunState        `gorm:"type:varchar(16);index" json:"state"`
	Reason       string          `gorm:"type:text" json:"reason,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	FetchResults FetchOutcomeMap `gorm:"type:jsonb" json:"fetch_results,omitempty"`
	Anomalies    AnomalyList     `gorm:"type:jsonb" json:"anomalies,omitempty"`
	AlertsSent   AlertRecordList `gorm:"type:jsonb" json:"alerts_sent,omitempty"`
	RulesChecked int             `json:"rules_checked"`
	RulesPassed  int             `json:"rules_passed"`
	RulesFailed  int             `json:"rules_failed"`
	KeysCompared int             `json:"keys_compared"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName 指定表名
func (ValidationRun) TableName() string {
	return "validation_runs"
}
