package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"resumind/internal/agent"
	"resumind/internal/constants"
	"resumind/internal/logger"
	"resumind/internal/parser"
	"resumind/internal/types"
)

// degradedAnswer 编排运行失败时呈现给用户的固定回复
const degradedAnswer = "Maaf, terjadi kesalahan internal saat memproses permintaan Anda."

// ChatHandler 聊天处理器，负责协调一次用户提交的完整流程：
// 可选的CV文本提取、编排运行、历史追加和成本估算。
// 检索和模型错误在这里被兜住并降级，不让会话崩溃。
type ChatHandler struct {
	orchestrator *agent.Orchestrator
	extractor    *parser.EinoPDFTextExtractor
	history      agent.ChatHistory
}

// NewChatHandler 创建一个新的聊天处理器。extractor可以为nil，此时不支持CV上传。
func NewChatHandler(orchestrator *agent.Orchestrator, extractor *parser.EinoPDFTextExtractor, history agent.ChatHistory) (*ChatHandler, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("%w: 编排器不能为nil", types.ErrInitialization)
	}
	if history == nil {
		return nil, fmt.Errorf("%w: 历史存储不能为nil", types.ErrInitialization)
	}
	return &ChatHandler{
		orchestrator: orchestrator,
		extractor:    extractor,
		history:      history,
	}, nil
}

// ExtractUploadedResume 从上传的PDF提取文本。
// 提取失败属于单次上传的错误，调用方应返回400而不是中断会话。
func (h *ChatHandler) ExtractUploadedResume(ctx context.Context, reader io.Reader, filename string) (string, error) {
	if h.extractor == nil {
		return "", fmt.Errorf("%w: 服务未启用CV上传", types.ErrExtraction)
	}
	text, err := h.extractor.ExtractTextFromReader(ctx, reader, filename)
	if err != nil {
		logger.Warn().Err(err).Str("filename", filename).Msg("上传的PDF解析失败")
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: PDF中没有可提取的文本", types.ErrExtraction)
	}
	return text, nil
}

// HandleChat 处理一次用户提交。
// sessionID为空时生成新会话。uploadedText为空表示没有上传CV。
// 编排运行的失败不上抛：返回降级回复和零用量，错误记入日志。
func (h *ChatHandler) HandleChat(ctx context.Context, query string, sessionID string, uploadedText string) (*types.ChatResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("pertanyaan tidak boleh kosong")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
		logger.Info().Str("session_id", sessionID).Msg("创建新会话")
	}

	if err := h.history.AddEntry(ctx, sessionID, types.HistoryEntry{Role: "user", Content: query}); err != nil {
		return nil, fmt.Errorf("追加用户消息到历史失败: %w", err)
	}

	answer := degradedAnswer
	usage := types.UsageStats{}
	toolCalls := []types.ToolCallLog{}

	result, err := h.orchestrator.Run(ctx, query, uploadedText)
	if err != nil {
		// 检索或模型失败：降级回复，零用量，会话继续
		logger.Error().Err(err).Str("session_id", sessionID).
			Bool("retrieval_error", errors.Is(err, types.ErrRetrieval)).
			Bool("model_error", errors.Is(err, types.ErrModelCall)).
			Msg("编排运行失败，返回降级回复")
	} else {
		answer = result.Answer
		usage = result.Usage
		toolCalls = result.ToolCalls
	}

	if err := h.history.AddEntry(ctx, sessionID, types.HistoryEntry{Role: "assistant", Content: answer}); err != nil {
		return nil, fmt.Errorf("追加助手回复到历史失败: %w", err)
	}

	fullHistory, err := h.history.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("读取会话历史失败: %w", err)
	}

	return &types.ChatResponse{
		Answer:    answer,
		SessionID: sessionID,
		Usage:     usage,
		Cost:      EstimateCost(usage),
		ToolCalls: toolCalls,
		History:   displayHistory(fullHistory),
	}, nil
}

// EstimateCost 按固定单价把token用量换算为美元和印尼盾。
// 纯展示用途，不影响正确性。
func EstimateCost(usage types.UsageStats) types.CostEstimate {
	usd := (float64(usage.InputTokens)*constants.InputTokenPriceUSDPerM +
		float64(usage.OutputTokens)*constants.OutputTokenPriceUSDPerM) / 1_000_000.0
	return types.CostEstimate{
		USD: usd,
		IDR: usd * constants.USDToIDRRate,
	}
}

// displayHistory 构造展示用的历史窗口：最近20条，内容截断到1000字符
func displayHistory(entries []types.HistoryEntry) []types.HistoryEntry {
	windowed := agent.WindowHistory(entries, constants.HistoryDisplayWindow)
	out := make([]types.HistoryEntry, len(windowed))
	for i, e := range windowed {
		out[i] = types.HistoryEntry{
			Role:    e.Role,
			Content: truncateRunes(e.Content, constants.HistoryContentLimit),
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
