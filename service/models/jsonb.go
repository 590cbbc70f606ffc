package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// 通用 JSON 类型
type JSONB map[string]interface{}

// 实现 Scanner 接口
func (j *JSONB) Scan(value interface{}) error {
	return jsonbScan(j, value)
}

// 实现 Valuer 接口
func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

// jsonbScan 统一的 JSONB 扫描实现，供各文档列类型复用
func jsonbScan(dst interface{}, value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("类型断言失败: 不是 []byte 或 string")
	}
	return json.Unmarshal(bytes, dst)
}

// ServiceEndpointList 依赖服务列表的 JSONB 列类型
type ServiceEndpointList []ServiceEndpoint

func (l *ServiceEndpointList) Scan(value interface{}) error {
	return jsonbScan(l, value)
}

func (l ServiceEndpointList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// ServiceEndpointDoc 单个服务端点的 JSONB 列类型
type ServiceEndpointDoc ServiceEndpoint

func (d *ServiceEndpointDoc) Scan(value interface{}) error {
	return jsonbScan(d, value)
}

func (d ServiceEndpointDoc) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// ValidationRuleList 校验规则列表的 JSONB 列类型
type ValidationRuleList []ValidationRule

func (l *ValidationRuleList) Scan(value interface{}) error {
	return jsonbScan(l, value)
}

func (l ValidationRuleList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// AlertPolicyDoc 告警策略的 JSONB 列类型
type AlertPolicyDoc AlertPolicy

func (d *AlertPolicyDoc) Scan(value interface{}) error {
	return jsonbScan(d, value)
}

func (d AlertPolicyDoc) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// FetchOutcomeMap service_id -> FetchOutcome 的 JSONB 列类型
type FetchOutcomeMap map[string]FetchOutcome

func (m *FetchOutcomeMap) Scan(value interface{}) error {
	return jsonbScan(m, value)
}

func (m FetchOutcomeMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// AnomalyList 异常列表的 JSONB 列类型
type AnomalyList []Anomaly

func (l *AnomalyList) Scan(value interface{}) error {
	return jsonbScan(l, value)
}

func (l AnomalyList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// AlertRecordList 告警记录列表的 JSONB 列类型
type AlertRecordList []AlertRecord

func (l *AlertRecordList) Scan(value interface{}) error {
	return jsonbScan(l, value)
}

func (l AlertRecordList) Value() (driver.Value, error) {
	return json.Marshal(l)
}
