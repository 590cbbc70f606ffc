/*
 * @module service/models/value
 * @description 校验记录的闭合值联合类型，记录字段只允许 string/number/bool/null 四种取值
 * @architecture 领域模型层 - 值对象
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 原始载荷解析 -> 值归一化 -> 比较器比较
 * @rules 比较器按声明类型显式分派，禁止基于反射的深度比较
 * @dependencies encoding/json, github.com/spf13/cast
 * @refs run.go, service/validation/reconciler.go
 */

package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cast"
)

// ValueKind 值类型
type ValueKind string

const (
	ValueString ValueKind = "string"
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
	ValueNull   ValueKind = "null"
)

// Value 记录字段值，闭合联合：string | number | bool | null
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// NullValue 空值
func NullValue() Value { return Value{Kind: ValueNull} }

// StringValue 字符串值
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NumberValue 数值
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Num: n} }

// BoolValue 布尔值
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// ValueOf 将任意解析结果归一化为闭合值联合
// JSON 解码产生的 map/slice 等复合类型会被序列化为字符串值保留
func ValueOf(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return NumberValue(float64(t))
	case int32:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NumberValue(f)
		}
		return StringValue(t.String())
	default:
		// 复合类型降级为字符串表示
		if data, err := json.Marshal(t); err == nil {
			return StringValue(string(data))
		}
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// IsNull 是否为空值
func (v Value) IsNull() bool { return v.Kind == ValueNull || v.Kind == "" }

// String 值的字符串表示，用于告警文案和集合成员比较
func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "null"
	}
}

// AsNumber 尝试将值解释为数值
// 数值串（如 "100"）按数值处理，使两侧类型松散的载荷可以做数值比较
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case ValueNumber:
		return v.Num, true
	case ValueString:
		if f, err := cast.ToFloat64E(v.Str); err == nil && v.Str != "" {
			return f, true
		}
	}
	return 0, false
}

// Equal 相等比较：两侧均可解析为数值时按数值比较，否则按类型和字面值比较
func (v Value) Equal(other Value) bool {
	if a, ok := v.AsNumber(); ok {
		if b, ok := other.AsNumber(); ok {
			return a == b
		}
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueString:
		return v.Str == other.Str
	case ValueNumber:
		return v.Num == other.Num
	case ValueBool:
		return v.Bool == other.Bool
	default:
		return true
	}
}

// MarshalJSON 按原生 JSON 标量序列化
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBool:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON 从 JSON 标量反序列化
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}
