package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resumind/internal/logger"
	"resumind/internal/types"
)

const (
	defaultChatCompletionsURL = "https://api.openai.com/v1/chat/completions"
	defaultChatModelName      = "gpt-4o-mini"
)

// --- OpenAI Compatible Structures ---

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"` // 固定为 "function"
	Function openAIFunction `json:"function"`
}

type openAIChatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []openAIMessage   `json:"messages"`
	Tools       []openAITool      `json:"tools,omitempty"`
	Temperature float64           `json:"temperature"`
}

type openAIMessage struct {
	Role       string               `json:"role"`
	Content    *string              `json:"content"` // 有tool_calls时可能为null
	ToolCalls  []openAIToolCallData `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

type openAIToolCallData struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // 参数的JSON字符串
	} `json:"function"`
}

type openAIChatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAICompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   *openAIUsage       `json:"usage,omitempty"`
}

// OpenAIChatModel 实现 model.ToolCallingChatModel 接口，
// 调用OpenAI兼容的 chat/completions 端点。temperature 固定为0，
// 保证同样的消息序列产生尽量确定的输出。
type OpenAIChatModel struct {
	apiKey           string
	modelName        string
	apiURL           string
	httpClient       *http.Client
	boundOpenAITools []openAITool
}

// NewOpenAIChatModel 创建一个新的 OpenAIChatModel 实例
func NewOpenAIChatModel(apiKey string, modelName string, apiURL string) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API密钥不能为空", types.ErrInitialization)
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultChatModelName
	}

	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = defaultChatCompletionsURL
	}

	logger.Info().Str("api_url", url).Str("model", mn).Msg("OpenAI聊天模型客户端已创建")

	return &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		apiURL:     url,
		httpClient: &http.Client{},
	}, nil
}

// ModelName 返回配置的模型名，用于按模型查QPM限制
func (m *OpenAIChatModel) ModelName() string {
	return m.modelName
}

// Generate 实现 model.BaseChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := openAIChatCompletionRequest{
		Model:       m.modelName,
		Messages:    toOpenAIMessages(messages),
		Temperature: 0,
	}

	if len(m.boundOpenAITools) > 0 {
		reqPayload.Tools = m.boundOpenAITools
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: 序列化请求体失败: %v", types.ErrModelCall, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: 创建HTTP请求失败: %v", types.ErrModelCall, err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug().Str("model", m.modelName).Int("messages", len(messages)).Int("tools", len(m.boundOpenAITools)).Msg("发送chat/completions请求")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: 发送HTTP请求失败: %v", types.ErrModelCall, err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取响应体失败: %v", types.ErrModelCall, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API请求失败，状态 %s: %s", types.ErrModelCall, httpResp.Status, string(bodyBytes))
	}

	var openAIResp openAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &openAIResp); err != nil {
		return nil, fmt.Errorf("%w: 反序列化API响应失败: %v", types.ErrModelCall, err)
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: API返回了空的choices", types.ErrModelCall)
	}

	apiMessage := openAIResp.Choices[0].Message
	responseContent := ""
	if apiMessage.Content != nil {
		responseContent = *apiMessage.Content
	}

	resultMessage := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: responseContent,
	}
	if resultMessage.Role == "" {
		resultMessage.Role = schema.Assistant
	}

	if len(apiMessage.ToolCalls) > 0 {
		resultMessage.ToolCalls = make([]schema.ToolCall, len(apiMessage.ToolCalls))
		for i, tc := range apiMessage.ToolCalls {
			resultMessage.ToolCalls[i] = schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}

	// usage缺失时保持为零值，成本估算按0处理
	meta := &schema.ResponseMeta{FinishReason: openAIResp.Choices[0].FinishReason}
	if openAIResp.Usage != nil {
		meta.Usage = &schema.TokenUsage{
			PromptTokens:     openAIResp.Usage.PromptTokens,
			CompletionTokens: openAIResp.Usage.CompletionTokens,
			TotalTokens:      openAIResp.Usage.TotalTokens,
		}
	}
	resultMessage.ResponseMeta = meta

	return resultMessage, nil
}

// Stream 实现 model.BaseChatModel 接口。本服务的两阶段编排只用同步Generate。
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel 的 Stream 方法未实现")
}

// WithTools 实现 model.ToolCallingChatModel 接口，
// 返回一个绑定了工具的副本，原实例保持未绑定（第二阶段的纯生成调用复用原实例）。
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make([]openAITool, 0, len(tools))
	for _, toolInfo := range tools {
		if toolInfo == nil {
			continue
		}

		var paramsJSON json.RawMessage
		if toolInfo.ParamsOneOf != nil {
			openapiSchema, err := toolInfo.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("导出工具 '%s' 的参数schema失败: %w", toolInfo.Name, err)
			}
			data, err := json.Marshal(openapiSchema)
			if err != nil {
				return nil, fmt.Errorf("序列化工具 '%s' 的参数schema失败: %w", toolInfo.Name, err)
			}
			paramsJSON = data
		}

		bound = append(bound, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        toolInfo.Name,
				Description: toolInfo.Desc,
				Parameters:  paramsJSON,
			},
		})
	}

	clone := &OpenAIChatModel{
		apiKey:           m.apiKey,
		modelName:        m.modelName,
		apiURL:           m.apiURL,
		httpClient:       m.httpClient,
		boundOpenAITools: bound,
	}
	logger.Debug().Int("tools", len(bound)).Msg("聊天模型已绑定工具")
	return clone, nil
}

// toOpenAIMessages 将eino消息转换为OpenAI报文格式。
// assistant消息带tool_calls时content置null，tool消息带tool_call_id。
func toOpenAIMessages(messages []*schema.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		om := openAIMessage{
			Role: string(msg.Role),
		}

		if len(msg.ToolCalls) > 0 {
			om.ToolCalls = make([]openAIToolCallData, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				data := openAIToolCallData{ID: tc.ID, Type: "function"}
				data.Function.Name = tc.Function.Name
				data.Function.Arguments = tc.Function.Arguments
				om.ToolCalls[i] = data
			}
			if msg.Content != "" {
				content := msg.Content
				om.Content = &content
			}
		} else {
			content := msg.Content
			om.Content = &content
		}

		if msg.Role == schema.Tool {
			om.ToolCallID = msg.ToolCallID
			om.Name = msg.Name
		}

		out = append(out, om)
	}
	return out
}

var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)
