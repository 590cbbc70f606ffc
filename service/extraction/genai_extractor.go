/*
 * @module service/extraction/genai_extractor
 * @description AI辅助记录抽取器，用模型把半结构化载荷整理为记录数组，输出不可信时回退JSON抽取
 * @architecture 适配器模式 - 封装 genai 客户端为抽取端口实现
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 载荷截断 -> 提示词构造 -> 模型调用 -> JSON提取 -> 记录归一化
 * @rules 模型输出视为不确定；解析失败即返回错误交由上层有界重试，绝不阻塞校验主流程
 * @dependencies google.golang.org/genai
 * @refs extractor.go
 */

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"validator-service/service/models"
)

const (
	defaultGenaiModel = "gemini-2.0-flash"
	maxPromptPayload  = 4000
)

// GenaiExtractor 基于 genai 的AI辅助抽取器
type GenaiExtractor struct {
	client *genai.Client
	model  string
}

// NewGenaiExtractor 创建AI辅助抽取器
func NewGenaiExtractor(apiKey, model string) (*GenaiExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("AI抽取器 API Key 未配置")
	}
	if model == "" {
		model = defaultGenaiModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("创建genai客户端失败: %w", err)
	}

	return &GenaiExtractor{client: client, model: model}, nil
}

// Extract 调用模型抽取记录
func (e *GenaiExtractor) Extract(ctx context.Context, raw []byte, keyField string) ([]models.Record, error) {
	payload := string(raw)
	if len(payload) > maxPromptPayload {
		payload = payload[:maxPromptPayload]
	}

	prompt := fmt.Sprintf(`从以下服务响应中抽取业务记录。

响应内容:
%s

要求:
1. 返回JSON数组，每个元素是一条扁平记录（字段值只能是字符串、数字、布尔或null）
2. 每条记录必须保留字段 %q 作为业务关联键
3. 只返回JSON数组本体，不要任何额外文字`, payload, keyField)

	resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("模型调用失败: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	text = stripCodeFence(text)

	var rows []map[string]interface{}
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		return nil, fmt.Errorf("模型输出不是合法的记录数组: %w", err)
	}

	return buildRecords(rows, keyField), nil
}

// stripCodeFence 去掉模型输出中的 markdown 代码块包裹
func stripCodeFence(text string) string {
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

var _ Extractor = (*GenaiExtractor)(nil)
