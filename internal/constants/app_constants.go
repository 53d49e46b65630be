package constants

const (
	// 检索工具的注册名，模型按此名字发起调用
	RelevantDocsToolName = "get_relevant_docs"
	// 未识别出类别时模型传入的哨兵值（大小写不敏感）
	CategoryFilterNone = "NONE"
	// 候选人块之间的分隔符，是工具输出的稳定格式契约
	CandidateDelimiter = "\n---KANDIDAT:\n"
	// 相似度搜索默认返回的候选数
	DefaultSearchTopK = 5

	// 上传CV文本嵌入提示词时的截断长度（字符）
	UploadedTextPromptLimit = 2000
	// 工具调用日志中查询文本的截断长度
	ToolLogQueryLimit = 50

	// 返回给前端的会话历史窗口大小（条）
	HistoryDisplayWindow = 20
	// 历史条目内容的展示截断长度
	HistoryContentLimit = 1000

	// gpt-4o-mini 成本估算（USD / 1M tokens）
	InputTokenPriceUSDPerM  = 0.15
	OutputTokenPriceUSDPerM = 0.60
	// 固定汇率，仅用于展示
	USDToIDRRate = 17000.0
)
