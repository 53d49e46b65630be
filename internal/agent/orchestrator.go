package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"resumind/internal/constants"
	"resumind/internal/logger"
	"resumind/internal/tracing"
	"resumind/internal/types"
)

// systemPrompt 定义助手的角色和工具使用规则。
// 输出语言限定为印尼语，与索引的简历数据保持一致。
const systemPrompt = "Anda adalah **AI ResuMind**, asisten yang sangat fokus pada analisis dan perbandingan data karier, CV, dan kriteria posisi pekerjaan. " +
	"Anda memiliki satu-satunya tool eksternal yang tersedia: **'get_relevant_docs'**." +
	"\n\n**ATURAN PENGGUNAAN TOOL:**" +
	"\n1. **WAJIB PANGGIL TOOL** jika pertanyaan secara eksplisit terkait: **Analisis CV**, **Perbandingan Kandidat**, **Kriteria Posisi/Role**, **Mencari Kandidat Relevan**, atau **segala yang terkait dengan kepentingan pekerjaan seorang Recruiter**." +
	"\n\n**EKSTRAKSI KATEGORI:** Sebelum memanggil 'get_relevant_docs', **WAJIB** analisis pertanyaan pengguna dan ekstrak kategori/industri utama (contoh: 'HR', 'IT', 'SALES'). Panggil tool dengan argumen `category_filter` yang sesuai. Jika kategori tidak teridentifikasi, set `category_filter` ke `NONE`." +
	"\n\n**OUTPUT:** Jawablah semua pertanyaan, termasuk ringkasan dan kesimpulan, **HANYA dalam Bahasa Indonesia**."

// uploadedCVTemplate 带上传CV时的用户消息模板。
// 第一个%s是截断后的CV全文，第二个%s是用户问题。
const uploadedCVTemplate = `Telah diunggah CV kandidat berikut:
--- CV KANDIDAT ---
%s
--- AKHIR CV ---

Pertanyaan Anda: %s
Gunakan tool 'get_relevant_docs' dengan ringkasan CV ini sebagai input, untuk mencari kandidat pembanding di database.`

// runState 表示一次编排运行所处的阶段。
// 用显式状态机而不是嵌套条件来表达"可能调工具、然后定稿"的两阶段流程，
// 让工具分支和直答分支可以分开测试。
type runState int

const (
	stateStart runState = iota
	statePromptAssembled
	stateFirstModelResponse
	stateToolsRequested
	stateToolsExecuted
	stateSecondModelResponse
	stateDirectAnswer
	stateDone
)

func (s runState) String() string {
	switch s {
	case stateStart:
		return "Start"
	case statePromptAssembled:
		return "PromptAssembled"
	case stateFirstModelResponse:
		return "FirstModelResponse"
	case stateToolsRequested:
		return "ToolsRequested"
	case stateToolsExecuted:
		return "ToolsExecuted"
	case stateSecondModelResponse:
		return "SecondModelResponse"
	case stateDirectAnswer:
		return "DirectAnswer"
	default:
		return "Done"
	}
}

// RunResult 是一次编排运行的产出
type RunResult struct {
	Answer    string
	Usage     types.UsageStats
	ToolCalls []types.ToolCallLog
}

// Orchestrator 实现两阶段对话编排：
// 第一次调用绑定了工具的模型，让它决定是否检索；
// 如有工具调用则按顺序执行并把结果以tool消息追加进对话；
// 第二次调用未绑定工具的模型做纯生成，取答案和token用量。
// 运行期间模型或工具的任何错误都不在内部吞掉，原样抛给调用方。
type Orchestrator struct {
	baseModel  model.ToolCallingChatModel
	boundModel model.ToolCallingChatModel
	tools      map[string]tool.InvokableTool
}

// NewOrchestrator 创建编排器并在构造时完成工具绑定。
// baseModel 保持未绑定状态，供第二阶段的纯生成调用使用。
func NewOrchestrator(ctx context.Context, baseModel model.ToolCallingChatModel, tools ...tool.InvokableTool) (*Orchestrator, error) {
	if baseModel == nil {
		return nil, fmt.Errorf("%w: 聊天模型不能为nil", types.ErrInitialization)
	}

	toolIndex := make(map[string]tool.InvokableTool, len(tools))
	toolInfos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: 获取工具元信息失败: %v", types.ErrInitialization, err)
		}
		if _, exists := toolIndex[info.Name]; exists {
			return nil, fmt.Errorf("%w: 工具名 '%s' 重复注册", types.ErrInitialization, info.Name)
		}
		toolIndex[info.Name] = t
		toolInfos = append(toolInfos, info)
	}

	boundModel := baseModel
	if len(toolInfos) > 0 {
		bound, err := baseModel.WithTools(toolInfos)
		if err != nil {
			return nil, fmt.Errorf("%w: 绑定工具失败: %v", types.ErrInitialization, err)
		}
		boundModel = bound
	}

	return &Orchestrator{
		baseModel:  baseModel,
		boundModel: boundModel,
		tools:      toolIndex,
	}, nil
}

// Run 对一次用户提交执行完整的编排流程。
// uploadedText 为空表示没有上传CV。
func (o *Orchestrator) Run(ctx context.Context, query string, uploadedText string) (*RunResult, error) {
	tracer := otel.Tracer("resumind/agent")
	ctx, span := tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	state := stateStart
	toolLogs := make([]types.ToolCallLog, 0)

	// 1. 组装prompt
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildUserTurn(query, uploadedText)),
	}
	state = statePromptAssembled
	logger.Debug().Str("state", state.String()).Int("messages", len(messages)).Msg("prompt已组装")
	span.SetAttributes(
		attribute.String("chat.query", tracing.SafeQueryContent(query)),
		attribute.Bool("chat.has_uploaded_cv", uploadedText != ""),
	)
	if uploadedText != "" {
		span.SetAttributes(attribute.String("chat.uploaded_cv_excerpt", tracing.SafeResumeContent(uploadedText)))
	}

	// 2. 第一次模型调用，带工具注册
	firstResp, err := o.boundModel.Generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeModel)
		return nil, err
	}
	messages = append(messages, firstResp)
	state = stateFirstModelResponse
	logger.Debug().Str("state", state.String()).Int("tool_calls", len(firstResp.ToolCalls)).Msg("第一次模型调用完成")

	// 3. 分支：模型是否请求了工具调用
	if len(firstResp.ToolCalls) > 0 {
		state = stateToolsRequested
		logger.Info().Str("state", state.String()).Int("tool_calls", len(firstResp.ToolCalls)).Msg("模型请求了工具调用")

		for _, tc := range firstResp.ToolCalls {
			var output string
			registered, ok := o.tools[tc.Function.Name]
			if !ok {
				// 模型臆造了工具名：把错误说明作为工具结果回灌给模型，运行继续
				logger.Warn().Str("tool", tc.Function.Name).Msg("模型请求了未注册的工具")
				output = fmt.Sprintf("Error: tool '%s' tidak tersedia. Satu-satunya tool yang terdaftar adalah 'get_relevant_docs'.", tc.Function.Name)
			} else {
				var err error
				output, err = registered.InvokableRun(ctx, tc.Function.Arguments)
				if err != nil {
					tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
					return nil, err
				}
			}

			toolLogs = append(toolLogs, buildToolCallLog(tc.Function.Arguments, output))
			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    output,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}
		state = stateToolsExecuted
	} else {
		state = stateDirectAnswer
	}
	logger.Debug().Str("state", state.String()).Msg("进入定稿调用")

	// 4. 第二次模型调用：纯生成，不再注册工具。
	// 直答分支同样走一次定稿调用，对话就是第一次调用的消息加上模型回复。
	finalResp, err := o.baseModel.Generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeModel)
		return nil, err
	}
	if state == stateToolsExecuted {
		state = stateSecondModelResponse
	}
	span.SetAttributes(attribute.String("chat.answer_path", state.String()))

	result := &RunResult{
		Answer:    finalResp.Content,
		Usage:     extractUsage(finalResp),
		ToolCalls: toolLogs,
	}
	state = stateDone
	logger.Debug().Str("state", state.String()).Msg("编排运行结束")

	span.SetAttributes(
		attribute.Int("chat.tool_calls", len(toolLogs)),
		attribute.Int("chat.input_tokens", result.Usage.InputTokens),
		attribute.Int("chat.output_tokens", result.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")

	return result, nil
}

// buildUserTurn 构造用户消息。上传了CV时套用模板并把CV全文截断，
// 避免把超长文档整个塞进上下文。
func buildUserTurn(query string, uploadedText string) string {
	if uploadedText == "" {
		return query
	}
	return fmt.Sprintf(uploadedCVTemplate, truncateRunes(uploadedText, constants.UploadedTextPromptLimit), query)
}

// buildToolCallLog 从工具调用的原始参数JSON和输出构造一条诊断日志。
// 参数解析失败时query记为N/A，日志是给人看的，不影响模型对话。
func buildToolCallLog(argumentsInJSON string, output string) types.ToolCallLog {
	var args struct {
		Query          string `json:"query"`
		CategoryFilter string `json:"category_filter"`
	}
	query := "N/A"
	filter := "None"
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err == nil {
		if args.Query != "" {
			query = truncateRunes(args.Query, constants.ToolLogQueryLimit)
		}
		if strings.TrimSpace(args.CategoryFilter) != "" {
			filter = args.CategoryFilter
		}
	}
	return types.ToolCallLog{
		Query:  query,
		Filter: filter,
		Output: output,
	}
}

// extractUsage 从响应元数据里取token用量，缺失时按0处理
func extractUsage(msg *schema.Message) types.UsageStats {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return types.UsageStats{}
	}
	usage := types.UsageStats{
		InputTokens:  msg.ResponseMeta.Usage.PromptTokens,
		OutputTokens: msg.ResponseMeta.Usage.CompletionTokens,
	}
	if usage.InputTokens < 0 {
		usage.InputTokens = 0
	}
	if usage.OutputTokens < 0 {
		usage.OutputTokens = 0
	}
	return usage
}

// truncateRunes 按字符数截断，避免在多字节字符中间切断
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
