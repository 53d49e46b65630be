package types

// CandidateDoc 向量库中一条候选人记录在本系统内的投影。
// 记录本身由外部的入库流程维护，这里只读。
type CandidateDoc struct {
	Category   string // 行业/岗位类别标签，例如 "HR"、"IT"、"SALES"
	ResumeText string // 简历正文，取自 payload 的 content 字段
}

// UsageStats 模型一次编排运行消耗的 token 数，仅用于成本估算
type UsageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CostEstimate 按固定价目表换算出的展示用成本
type CostEstimate struct {
	USD float64 `json:"usd"`
	IDR float64 `json:"idr"`
}

// ToolCallLog 一次工具调用的诊断记录，只进展示面板，不进模型对话
type ToolCallLog struct {
	Query  string `json:"query"`  // 截断后的查询文本
	Filter string `json:"filter"` // 模型传入的类别过滤值，原样记录
	Output string `json:"output"` // 工具的完整输出文本
}

// HistoryEntry 会话历史中的一条 {role, content} 记录
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse POST /api/v1/chat 的响应体
type ChatResponse struct {
	Answer    string         `json:"answer"`
	SessionID string         `json:"session_id"`
	Usage     UsageStats     `json:"usage"`
	Cost      CostEstimate   `json:"cost"`
	ToolCalls []ToolCallLog  `json:"tool_calls"`
	History   []HistoryEntry `json:"history"`
}
