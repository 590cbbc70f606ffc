/*
 * @module service/validation/custom_expr
 * @description 自定义比较表达式求值器，规则字段可携带Go布尔表达式做定制比较
 * @architecture 解释器模式 - yaegi 编译缓存，表达式包装为 Match 入口函数
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 表达式 -> 哈希查缓存 -> 编译 -> 调用 -> 比较结果
 * @rules 表达式编译或求值失败时调用方回退到声明比较器，求值失败不产生异常记录
 * @dependencies github.com/traefik/yaegi, crypto/sha1, sync
 * @refs reconciler.go, service/models/validation_config.go
 */

package validation

import (
	"crypto/sha1"
	"fmt"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"validator-service/service/models"
)

// compareFunc 编译后的比较函数
// expected/actual 为字段值的字符串表示，expectedNum/actualNum 为数值解释（不可解释时为0）
type compareFunc func(expected, actual string, expectedNum, actualNum float64) bool

// ExprEvaluator 表达式求值器，编译结果按表达式哈希缓存
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]compareFunc
}

// NewExprEvaluator 创建表达式求值器
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]compareFunc),
	}
}

// Compare 用自定义表达式比较两个字段值
// 表达式是一个Go布尔表达式，可引用 expected/actual（字符串）和 expectedNum/actualNum（数值）
func (e *ExprEvaluator) Compare(expr string, expected, actual models.Value) (bool, error) {
	fn, err := e.compiled(expr)
	if err != nil {
		return false, err
	}

	expectedNum, _ := expected.AsNumber()
	actualNum, _ := actual.AsNumber()
	return fn(expected.String(), actual.String(), expectedNum, actualNum), nil
}

// compiled 获取表达式的编译结果，按内容哈希缓存
func (e *ExprEvaluator) compiled(expr string) (compareFunc, error) {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(expr)))

	e.mu.RLock()
	fn, ok := e.cache[hash]
	e.mu.RUnlock()
	if ok {
		return fn, nil
	}

	fn, err := compileExpr(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[hash] = fn
	e.mu.Unlock()
	return fn, nil
}

// compileExpr 将表达式包装为 Match 函数并编译
func compileExpr(expr string) (compareFunc, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库符号失败: %w", err)
	}

	wrapped := fmt.Sprintf(`
package main

import (
	"math"
	"strings"
)

var _ = math.Abs
var _ = strings.Contains

func Match(expected, actual string, expectedNum, actualNum float64) bool {
	return %s
}
`, expr)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("比较表达式编译失败: %w", err)
	}

	v, err := i.Eval("Match")
	if err != nil {
		return nil, fmt.Errorf("获取 Match 函数失败: %w", err)
	}

	fn, ok := v.Interface().(func(string, string, float64, float64) bool)
	if !ok {
		return nil, fmt.Errorf("Match 函数签名不符合预期")
	}
	return fn, nil
}
