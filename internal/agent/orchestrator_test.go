package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumind/internal/storage"
	"resumind/internal/types"
)

func newToolCall(id, name, arguments string) schema.ToolCall {
	return schema.ToolCall{
		ID: id,
		Function: schema.FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

func TestOrchestratorDirectAnswer(t *testing.T) {
	// 模型两次调用都不请求工具："Halo" 走直答路径
	mock := NewMockChatClient(
		MockResponse{Content: "Halo! Ada yang bisa saya bantu?"},
		MockResponse{
			Content: "Halo! Ada yang bisa saya bantu terkait analisis CV?",
			Usage:   &schema.TokenUsage{PromptTokens: 42, CompletionTokens: 11},
		},
	)
	tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.1}}, &fakeSearcher{})

	orch, err := NewOrchestrator(context.Background(), mock, tool)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "Halo", "")
	require.NoError(t, err)

	assert.Equal(t, "Halo! Ada yang bisa saya bantu terkait analisis CV?", result.Answer)
	assert.Empty(t, result.ToolCalls, "直答路径不应产生工具调用日志")
	assert.Equal(t, 42, result.Usage.InputTokens)
	assert.Equal(t, 11, result.Usage.OutputTokens)

	// 第二次调用收到的消息应恰好是第一次调用的消息加上模型回复
	require.Equal(t, 2, mock.CallCount())
	first := mock.ReceivedCalls[0]
	second := mock.ReceivedCalls[1]
	require.Len(t, first, 2, "第一次调用应收到system+user两条消息")
	require.Len(t, second, 3, "第二次调用应多出模型的第一次回复")
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, first[1], second[1])
	assert.Equal(t, schema.Assistant, second[2].Role)
	assert.Equal(t, "Halo! Ada yang bisa saya bantu?", second[2].Content)
}

func TestOrchestratorToolBranch(t *testing.T) {
	// 端到端场景："Apa kriteria HR Manager?" 触发一次检索，
	// 工具用归一化后的HR过滤器搜索，结果进入第二次模型调用。
	mock := NewMockChatClient(
		MockResponse{ToolCalls: []schema.ToolCall{
			newToolCall("call_1", "get_relevant_docs", `{"query":"Apa kriteria HR Manager?","category_filter":"HR"}`),
		}},
		MockResponse{
			Content: "Berdasarkan data, kriteria HR Manager meliputi pengalaman rekrutmen dan manajemen tim.",
			Usage:   &schema.TokenUsage{PromptTokens: 350, CompletionTokens: 60},
		},
	)
	searcher := &fakeSearcher{results: []storage.SearchResult{
		{ID: "1", Payload: map[string]interface{}{"category": "HR", "resume_text": "HR Manager, 7 tahun pengalaman"}},
	}}
	tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.5}}, searcher)

	orch, err := NewOrchestrator(context.Background(), mock, tool)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "Apa kriteria HR Manager?", "")
	require.NoError(t, err)

	assert.NotEmpty(t, result.Answer)
	assert.GreaterOrEqual(t, result.Usage.InputTokens, 0)
	assert.GreaterOrEqual(t, result.Usage.OutputTokens, 0)

	// 工具确实以HR过滤器执行过
	require.NotNil(t, searcher.receivedFilter, "应带category=HR过滤器搜索")
	must := searcher.receivedFilter["must"].([]map[string]interface{})
	assert.Equal(t, "HR", must[0]["match"].(map[string]interface{})["value"])

	// 诊断日志
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "Apa kriteria HR Manager?", result.ToolCalls[0].Query)
	assert.Equal(t, "HR", result.ToolCalls[0].Filter)
	assert.Contains(t, result.ToolCalls[0].Output, "HR Manager, 7 tahun pengalaman")

	// 第二次调用应包含tool消息且引用原始call id
	require.Equal(t, 2, mock.CallCount())
	second := mock.ReceivedCalls[1]
	require.Len(t, second, 4, "system+user+assistant+tool")
	toolMsg := second[3]
	assert.Equal(t, schema.Tool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "Category: HR")
}

func TestOrchestratorMultipleToolCalls(t *testing.T) {
	// N个工具调用应产生N条tool消息，各自引用不同的call id
	mock := NewMockChatClient(
		MockResponse{ToolCalls: []schema.ToolCall{
			newToolCall("call_a", "get_relevant_docs", `{"query":"kriteria HR","category_filter":"HR"}`),
			newToolCall("call_b", "get_relevant_docs", `{"query":"kriteria IT","category_filter":"IT"}`),
			newToolCall("call_c", "get_relevant_docs", `{"query":"kriteria umum","category_filter":"NONE"}`),
		}},
		MockResponse{Content: "Ringkasan dari tiga pencarian."},
	)
	tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.3}}, &fakeSearcher{})

	orch, err := NewOrchestrator(context.Background(), mock, tool)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "Bandingkan kriteria HR dan IT", "")
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 3, "每个工具调用一条诊断日志")

	second := mock.ReceivedCalls[1]
	require.Len(t, second, 6, "system+user+assistant+三条tool消息")
	seen := map[string]bool{}
	for _, msg := range second[3:] {
		assert.Equal(t, schema.Tool, msg.Role)
		assert.False(t, seen[msg.ToolCallID], "call id不应重复: %s", msg.ToolCallID)
		seen[msg.ToolCallID] = true
	}
	assert.True(t, seen["call_a"] && seen["call_b"] && seen["call_c"], "三个call id都应有对应的tool消息")

	// usage缺失时按零处理
	assert.Equal(t, 0, result.Usage.InputTokens)
	assert.Equal(t, 0, result.Usage.OutputTokens)
}

func TestOrchestratorUploadedCVPrompt(t *testing.T) {
	mock := NewMockChatClient(
		MockResponse{Content: "ok"},
		MockResponse{Content: "ok"},
	)
	tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.1}}, &fakeSearcher{})

	orch, err := NewOrchestrator(context.Background(), mock, tool)
	require.NoError(t, err)

	longCV := strings.Repeat("a", 3000)
	_, err = orch.Run(context.Background(), "Bagaimana kualitas CV ini?", longCV)
	require.NoError(t, err)

	userMsg := mock.ReceivedCalls[0][1]
	require.Equal(t, schema.User, userMsg.Role)
	assert.Contains(t, userMsg.Content, "--- CV KANDIDAT ---")
	assert.Contains(t, userMsg.Content, "--- AKHIR CV ---")
	assert.Contains(t, userMsg.Content, "Bagaimana kualitas CV ini?")
	assert.Contains(t, userMsg.Content, strings.Repeat("a", 2000))
	assert.NotContains(t, userMsg.Content, strings.Repeat("a", 2001), "CV全文应截断到2000字符")
}

func TestOrchestratorToolLogQueryTruncation(t *testing.T) {
	longQuery := strings.Repeat("x", 80)
	mock := NewMockChatClient(
		MockResponse{ToolCalls: []schema.ToolCall{
			newToolCall("call_1", "get_relevant_docs", `{"query":"`+longQuery+`"}`),
		}},
		MockResponse{Content: "ok"},
	)
	tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.1}}, &fakeSearcher{})

	orch, err := NewOrchestrator(context.Background(), mock, tool)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), longQuery, "")
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, strings.Repeat("x", 50), result.ToolCalls[0].Query, "诊断日志中的查询应截断到50字符")
	assert.Equal(t, "None", result.ToolCalls[0].Filter, "缺失过滤参数时记为None")
}

func TestOrchestratorErrorPropagation(t *testing.T) {
	t.Run("第一次模型调用失败", func(t *testing.T) {
		modelErr := errors.New("provider宕机")
		mock := NewMockChatClient(MockResponse{Error: modelErr})
		tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.1}}, &fakeSearcher{})

		orch, err := NewOrchestrator(context.Background(), mock, tool)
		require.NoError(t, err)

		_, err = orch.Run(context.Background(), "q", "")
		assert.ErrorIs(t, err, modelErr, "模型错误应原样抛出，不在编排器内部吞掉")
	})

	t.Run("工具执行失败", func(t *testing.T) {
		mock := NewMockChatClient(
			MockResponse{ToolCalls: []schema.ToolCall{
				newToolCall("call_1", "get_relevant_docs", `{"query":"q"}`),
			}},
		)
		searcher := &fakeSearcher{err: errors.New("qdrant超时")}
		tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.1}}, searcher)

		orch, err := NewOrchestrator(context.Background(), mock, tool)
		require.NoError(t, err)

		_, err = orch.Run(context.Background(), "q", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrRetrieval, "检索错误应穿透编排器")
		assert.Equal(t, 1, mock.CallCount(), "工具失败后不应再调用模型")
	})

	t.Run("第二次模型调用失败", func(t *testing.T) {
		modelErr := errors.New("provider限流")
		mock := NewMockChatClient(
			MockResponse{Content: "jawaban pertama"},
			MockResponse{Error: modelErr},
		)
		tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.1}}, &fakeSearcher{})

		orch, err := NewOrchestrator(context.Background(), mock, tool)
		require.NoError(t, err)

		_, err = orch.Run(context.Background(), "q", "")
		assert.ErrorIs(t, err, modelErr)
	})
}

func TestOrchestratorUnknownToolName(t *testing.T) {
	// 模型臆造的工具名不会中断运行：错误说明作为tool消息回灌，继续定稿
	mock := NewMockChatClient(
		MockResponse{ToolCalls: []schema.ToolCall{
			newToolCall("call_1", "get_weather", `{"query":"q"}`),
		}},
		MockResponse{Content: "Maaf, saya tidak punya tool itu."},
	)
	tool := newTestTool(t, &fakeEmbedder{vector: []float64{0.1}}, &fakeSearcher{})

	orch, err := NewOrchestrator(context.Background(), mock, tool)
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), "q", "")
	require.NoError(t, err, "未注册的工具名不应让运行失败")
	assert.Equal(t, "Maaf, saya tidak punya tool itu.", result.Answer)

	second := mock.ReceivedCalls[1]
	require.Len(t, second, 4)
	assert.Equal(t, schema.Tool, second[3].Role)
	assert.Contains(t, second[3].Content, "tidak tersedia", "tool消息应说明工具不可用")
	assert.Equal(t, "call_1", second[3].ToolCallID)
}

func TestWindowHistory(t *testing.T) {
	entries := make([]types.HistoryEntry, 0, 25)
	for i := 0; i < 25; i++ {
		entries = append(entries, types.HistoryEntry{Role: "user", Content: strings.Repeat("m", i+1)})
	}

	windowed := WindowHistory(entries, 20)
	require.Len(t, windowed, 20, "窗口应只保留最近20条")
	assert.Equal(t, entries[5], windowed[0], "最早的5条应被裁掉")
	assert.Equal(t, entries[24], windowed[19])

	assert.Len(t, WindowHistory(entries[:3], 20), 3, "不足窗口大小时保持原样")
	assert.Len(t, WindowHistory(entries, 0), 25, "limit<=0时返回完整历史")
}

func TestInMemoryChatHistory(t *testing.T) {
	ctx := context.Background()
	history := NewInMemoryChatHistory()

	got, err := history.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got, "不存在的会话应返回空历史")

	require.NoError(t, history.AddEntry(ctx, "s1", types.HistoryEntry{Role: "user", Content: "Halo"}))
	require.NoError(t, history.AddEntries(ctx, "s1", []types.HistoryEntry{
		{Role: "assistant", Content: "Halo juga"},
		{Role: "user", Content: "Apa kabar?"},
	}))

	got, err = history.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "Halo juga", got[1].Content)

	// 不同会话互相隔离
	other, err := history.GetHistory(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other)

	// 返回的是副本，修改不影响内部存储
	got[0].Content = "dimodifikasi"
	again, err := history.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Halo", again[0].Content)

	require.NoError(t, history.ClearHistory(ctx, "s1"))
	cleared, err := history.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, cleared)

	// 缺少role的条目应被拒绝
	assert.Error(t, history.AddEntry(ctx, "s1", types.HistoryEntry{Content: "tanpa role"}))
}
